// Package command implements the remote console and its command channels.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/callx/internal/call"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/metrics"
	"firestige.xyz/callx/internal/sba"
)

// Engine is the running capture engine as seen by the console.
type Engine interface {
	Containers() []metrics.ContainerSize
	CaptureStats() metrics.CaptureStats
	Calls() []call.Info
	SbaEventCounts() map[string]int
	SbaIncidents() map[string][]sba.Incident
	RtpSeqErrors() uint64
	ConfigYAML() ([]byte, error)
	ClearSba()
}

// Handler dispatches console commands against an Engine.
type Handler struct {
	engine       Engine
	shutdownFunc func()
	startTime    time.Time
	logger       log.Logger
}

// NewHandler creates a handler over engine.
func NewHandler(engine Engine, logger log.Logger) *Handler {
	return &Handler{
		engine:    engine,
		startTime: time.Now(),
		logger:    logger,
	}
}

// SetShutdownFunc sets the callback invoked by the shutdown command.
func (h *Handler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command is one console request.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
	// Privileged is set by the channel, never by the sender.
	Privileged bool `json:"-"`
}

// Response is the reply to a Command.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
	ErrCodeForbidden      = -32001 // Method needs a privileged channel
)

// Console methods.
const (
	MethodPing         = "ping"
	MethodStatus       = "status"
	MethodContainers   = "containers"
	MethodCalls        = "calls"
	MethodSbaEvents    = "sba_events"
	MethodSbaIncidents = "sba_incidents"
	MethodRtpSeqErrors = "rtp_seq_errors"
	MethodConfig       = "config"
	MethodSbaClear     = "sba_clear"
	MethodShutdown     = "shutdown"
)

// Handle processes a command and returns a response.
func (h *Handler) Handle(ctx context.Context, cmd Command) Response {
	h.logger.WithFields(map[string]interface{}{"method": cmd.Method, "id": cmd.ID}).Debug("handling command")

	switch cmd.Method {
	case MethodPing:
		return Response{ID: cmd.ID, Result: "pong"}
	case MethodStatus:
		return h.handleStatus(cmd)
	case MethodContainers:
		return Response{ID: cmd.ID, Result: h.engine.Containers()}
	case MethodCalls:
		return h.handleCalls(cmd)
	case MethodSbaEvents:
		return h.handleSbaEvents(cmd)
	case MethodSbaIncidents:
		return h.handleSbaIncidents(cmd)
	case MethodRtpSeqErrors:
		return Response{ID: cmd.ID, Result: map[string]uint64{"rtp_seq_errors": h.engine.RtpSeqErrors()}}
	case MethodConfig:
		return h.handleConfig(cmd)
	case MethodSbaClear:
		return h.privileged(cmd, h.handleSbaClear)
	case MethodShutdown:
		return h.privileged(cmd, h.handleShutdown)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func (h *Handler) privileged(cmd Command, fn func(Command) Response) Response {
	if !cmd.Privileged {
		return errorResponse(cmd.ID, ErrCodeForbidden, fmt.Sprintf("method %q is only allowed from loopback", cmd.Method))
	}
	return fn(cmd)
}

func errorResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}

// decodeParams decodes cmd.Params into out. Numbers arrive as float64 and
// strings from a shell are accepted for numeric fields.
func decodeParams(cmd Command, out interface{}) error {
	if len(cmd.Params) == 0 || string(cmd.Params) == "null" {
		return nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(cmd.Params, &raw); err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

func (h *Handler) handleStatus(cmd Command) Response {
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
			"capture":        h.engine.CaptureStats(),
			"calls":          len(h.engine.Calls()),
			"rtp_seq_errors": h.engine.RtpSeqErrors(),
		},
	}
}

// CallsParams filters the calls listing.
type CallsParams struct {
	CallID string `json:"call_id"`
	Caller string `json:"caller"`
	Limit  int    `json:"limit"`
}

func (h *Handler) handleCalls(cmd Command) Response {
	var params CallsParams
	if err := decodeParams(cmd, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if params.Limit < 0 {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "limit must not be negative")
	}

	calls := h.engine.Calls()
	sort.Slice(calls, func(i, j int) bool { return calls[i].AgeSeconds > calls[j].AgeSeconds })

	out := make([]call.Info, 0, len(calls))
	for _, c := range calls {
		if params.CallID != "" && c.ID != params.CallID {
			continue
		}
		if params.Caller != "" && c.Caller != params.Caller {
			continue
		}
		out = append(out, c)
		if params.Limit > 0 && len(out) == params.Limit {
			break
		}
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"total": len(calls), "calls": out}}
}

// CallerParams selects one caller.
type CallerParams struct {
	Caller string `json:"caller"`
}

func (h *Handler) handleSbaEvents(cmd Command) Response {
	var params CallerParams
	if err := decodeParams(cmd, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	counts := h.engine.SbaEventCounts()
	if params.Caller != "" {
		counts = map[string]int{params.Caller: counts[params.Caller]}
	}
	return Response{ID: cmd.ID, Result: counts}
}

func (h *Handler) handleSbaIncidents(cmd Command) Response {
	var params CallerParams
	if err := decodeParams(cmd, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	incidents := h.engine.SbaIncidents()
	if params.Caller != "" {
		selected := map[string][]sba.Incident{}
		if list, ok := incidents[params.Caller]; ok {
			selected[params.Caller] = list
		}
		incidents = selected
	}
	return Response{ID: cmd.ID, Result: incidents}
}

func (h *Handler) handleConfig(cmd Command) Response {
	data, err := h.engine.ConfigYAML()
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("render config failed: %v", err))
	}
	return Response{ID: cmd.ID, Result: string(data)}
}

func (h *Handler) handleSbaClear(cmd Command) Response {
	h.engine.ClearSba()
	h.logger.Info("sba store cleared from console")
	return Response{ID: cmd.ID, Result: map[string]interface{}{"cleared": true}}
}

func (h *Handler) handleShutdown(cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown not available")
	}
	h.logger.Info("shutdown requested from console")
	// Reply first; the caller is waiting on this connection.
	go h.shutdownFunc()
	return Response{ID: cmd.ID, Result: map[string]interface{}{"shutting_down": true}}
}
