package output

import (
	"context"
	"strconv"

	"firestige.xyz/callx/internal/audio"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/metrics"
	"firestige.xyz/callx/internal/queue"
)

// RecordStore issues record ids for recordings.
type RecordStore interface {
	InsertCall(ctx context.Context, callerName, callerURI string) (int64, error)
}

// Options selects which recordings are delivered.
type Options struct {
	RecordCaller bool
	RecordCallee bool
}

// Handler delivers every PcmAudio to the configured outputs. Failures are
// logged and counted; they never stop the stage.
type Handler struct {
	opts    Options
	records RecordStore
	wave    *WaveWriter
	socket  *SocketWriter
	s3      *S3Uploader
	logger  log.Logger
}

// HandlerOption attaches an output to a Handler.
type HandlerOption func(*Handler)

func WithRecordStore(r RecordStore) HandlerOption {
	return func(h *Handler) { h.records = r }
}

func WithWaveWriter(w *WaveWriter) HandlerOption {
	return func(h *Handler) { h.wave = w }
}

// WithSocketWriter enables socket output. It requires a record store,
// since every frame carries a record id.
func WithSocketWriter(s *SocketWriter) HandlerOption {
	return func(h *Handler) { h.socket = s }
}

// WithS3Uploader uploads every WAV file after it is written.
func WithS3Uploader(u *S3Uploader) HandlerOption {
	return func(h *Handler) { h.s3 = u }
}

func NewHandler(opts Options, logger log.Logger, outputs ...HandlerOption) *Handler {
	h := &Handler{opts: opts, logger: logger.WithField("stage", "output")}
	for _, o := range outputs {
		o(h)
	}
	return h
}

// Run handles audio from in until it is deactivated.
func (h *Handler) Run(ctx context.Context, in *queue.Queue[*audio.PcmAudio]) {
	defer h.Close()
	for {
		pcm, ok := in.Pop()
		if !ok {
			h.logger.Debug("audio queue deactivated")
			return
		}
		h.Handle(ctx, pcm)
	}
}

// Handle delivers one recording.
func (h *Handler) Handle(ctx context.Context, pcm *audio.PcmAudio) {
	if pcm.Empty() {
		return
	}
	if pcm.CallerAudio && !h.opts.RecordCaller || !pcm.CallerAudio && !h.opts.RecordCallee {
		h.logger.WithField("call_id", pcm.CallID).Tracef("%s audio not recorded", pcm.Direction())
		return
	}
	l := h.logger.WithField("call_id", pcm.CallID).WithField("direction", pcm.Direction())

	base := pcm.CallID
	var recordID int64 = -1
	if h.records != nil {
		id, err := h.records.InsertCall(ctx, pcm.Caller.DisplayName, pcm.Caller.Address)
		if err != nil {
			metrics.OutputWritesTotal.WithLabelValues("record_store", "error").Inc()
			l.WithError(err).Error("creating record failed, recording skipped")
			return
		}
		metrics.OutputWritesTotal.WithLabelValues("record_store", "ok").Inc()
		l.Infof("record %d created", id)
		recordID = id
		base = strconv.FormatInt(id, 10)
	}

	if h.wave != nil {
		h.writeWave(ctx, l, pcm, base)
	}
	if h.socket != nil && recordID >= 0 {
		if err := h.socket.Send(recordID, pcm); err != nil {
			metrics.OutputWritesTotal.WithLabelValues("socket", "error").Inc()
			l.WithError(err).Error("socket output failed")
		} else {
			metrics.OutputWritesTotal.WithLabelValues("socket", "ok").Inc()
		}
	}
}

func (h *Handler) writeWave(ctx context.Context, l log.Logger, pcm *audio.PcmAudio, base string) {
	path, err := h.wave.Write(pcm, base)
	if err != nil {
		metrics.OutputWritesTotal.WithLabelValues("wave", "error").Inc()
		l.WithError(err).Error("wave output failed")
		return
	}
	if path == "" {
		return
	}
	metrics.OutputWritesTotal.WithLabelValues("wave", "ok").Inc()
	l.Infof("wrote %s (%s)", path, pcm.Duration())

	if h.s3 == nil {
		return
	}
	location, err := h.s3.Upload(ctx, path)
	if err != nil {
		metrics.OutputWritesTotal.WithLabelValues("s3", "error").Inc()
		l.WithError(err).Error("s3 upload failed")
		return
	}
	metrics.OutputWritesTotal.WithLabelValues("s3", "ok").Inc()
	l.Infof("uploaded %s", location)
}

// Close releases the socket connection.
func (h *Handler) Close() {
	if h.socket != nil {
		h.socket.Close()
	}
}
