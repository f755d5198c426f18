// Package recordstore issues per-recording ids from a SQL database.
package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"firestige.xyz/callx/internal/core"
)

// Schema expected by the store:
//
//	caller(id, name, uri)
//	call(id, caller_id)
type dialect struct {
	findCaller   string
	insertCaller string
	insertCall   string
	returning    bool
}

var dialects = map[string]dialect{
	"postgres": {
		findCaller:   "SELECT id FROM caller WHERE uri = $1",
		insertCaller: "INSERT INTO caller(name, uri) VALUES($1, $2) RETURNING id",
		insertCall:   "INSERT INTO call(caller_id) VALUES($1) RETURNING id",
		returning:    true,
	},
	"mysql": {
		findCaller:   "SELECT id FROM caller WHERE uri = ?",
		insertCaller: "INSERT INTO caller(name, uri) VALUES(?, ?)",
		insertCall:   "INSERT INTO `call`(caller_id) VALUES(?)",
	},
}

// Store inserts caller and call rows.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects with driver "postgres" or "mysql" and pings the server.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("%w: unsupported record store driver %q", core.ErrConfigInvalid, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping record store: %w", err)
	}
	return New(db, driver)
}

// New wraps an open database handle.
func New(db *sql.DB, driver string) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported record store driver %q", core.ErrConfigInvalid, driver)
	}
	return &Store{db: db, dialect: d}, nil
}

// InsertCall looks up or creates the caller by uri and inserts a call row
// for it, all in one transaction. It returns the new call id.
func (s *Store) InsertCall(ctx context.Context, callerName, callerURI string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", core.ErrNoRecord, err)
	}
	defer tx.Rollback() //nolint:errcheck

	callerID, err := s.callerID(ctx, tx, callerName, callerURI)
	if err != nil {
		return 0, fmt.Errorf("%w: caller: %v", core.ErrNoRecord, err)
	}
	callID, err := s.insert(ctx, tx, s.dialect.insertCall, callerID)
	if err != nil {
		return 0, fmt.Errorf("%w: call: %v", core.ErrNoRecord, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", core.ErrNoRecord, err)
	}
	return callID, nil
}

func (s *Store) callerID(ctx context.Context, tx *sql.Tx, name, uri string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, s.dialect.findCaller, uri).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		return s.insert(ctx, tx, s.dialect.insertCaller, name, uri)
	default:
		return 0, err
	}
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	if s.dialect.returning {
		var id int64
		err := tx.QueryRowContext(ctx, query, args...).Scan(&id)
		return id, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) Close() error {
	return s.db.Close()
}
