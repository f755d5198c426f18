package command

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/callx/internal/log"
)

func startServer(t *testing.T, h *Handler) (*Server, context.CancelFunc, chan error) {
	t.Helper()
	server := NewServer("127.0.0.1:0", h, log.Discard())
	require.NoError(t, server.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()
	t.Cleanup(cancel)
	return server, cancel, errCh
}

func TestServerClient_Integration(t *testing.T) {
	engine := newFakeEngine()
	server, cancel, errCh := startServer(t, NewHandler(engine, log.Discard()))
	client := NewClient(server.Addr(), 5*time.Second)

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("calls with params", func(t *testing.T) {
		resp, err := client.Call(context.Background(), MethodCalls, map[string]any{"limit": 2})
		require.NoError(t, err)
		require.Nil(t, resp.Error)
		result := resp.Result.(map[string]interface{})
		assert.Len(t, result["calls"], 2)
		assert.EqualValues(t, 3, result["total"])
	})

	t.Run("loopback is privileged", func(t *testing.T) {
		resp, err := client.Call(context.Background(), MethodSbaClear, nil)
		require.NoError(t, err)
		assert.Nil(t, resp.Error)
		assert.True(t, engine.cleared.Load())
	})

	t.Run("unknown method", func(t *testing.T) {
		resp, err := client.Call(context.Background(), "unknown.method", nil)
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	})

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server didn't stop in time")
	}
}

func TestServer_MalformedLines(t *testing.T) {
	server, _, _ := startServer(t, NewHandler(newFakeEngine(), log.Discard()))

	conn, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewScanner(conn)

	_, err = conn.Write([]byte("{not json\n"))
	require.NoError(t, err)
	require.True(t, r.Scan())
	assert.Contains(t, r.Text(), `"code":-32700`)

	_, err = conn.Write([]byte(`{"jsonrpc":"2.0","id":7}` + "\n"))
	require.NoError(t, err)
	require.True(t, r.Scan())
	assert.Contains(t, r.Text(), `"code":-32600`)
	assert.Contains(t, r.Text(), `"id":7`)

	// the connection survives bad requests
	_, err = conn.Write([]byte(`{"jsonrpc":"2.0","method":"ping","id":8}` + "\n"))
	require.NoError(t, err)
	require.True(t, r.Scan())
	assert.Contains(t, r.Text(), `"result":"pong"`)
}

func TestServer_MultipleConnections(t *testing.T) {
	server, _, _ := startServer(t, NewHandler(newFakeEngine(), log.Discard()))

	errCh := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			errCh <- NewClient(server.Addr(), 5*time.Second).Ping(context.Background())
		}()
	}
	for i := 0; i < 5; i++ {
		assert.NoError(t, <-errCh)
	}
}

func TestServer_StopIsIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", NewHandler(newFakeEngine(), log.Discard()), log.Discard())
	require.NoError(t, server.Listen())
	assert.NoError(t, server.Stop())
	assert.NoError(t, server.Stop())
}

func TestServer_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server := NewServer(ln.Addr().String(), NewHandler(newFakeEngine(), log.Discard()), log.Discard())
	assert.ErrorContains(t, server.Start(context.Background()), "failed to listen")
}

func TestClient_ConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewClient(addr, time.Second).Call(context.Background(), MethodPing, nil)
	assert.ErrorContains(t, err, "failed to connect")
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback(&net.TCPAddr{IP: net.ParseIP("127.0.0.1")}))
	assert.True(t, isLoopback(&net.TCPAddr{IP: net.IPv6loopback}))
	assert.False(t, isLoopback(&net.TCPAddr{IP: net.ParseIP("10.1.2.3")}))
	assert.False(t, isLoopback(&net.UnixAddr{Name: "/tmp/x"}))
}
