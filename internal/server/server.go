// Package server exposes the rolling buffer over HTTP: encoded downloads,
// a codec listing, health probes, a live PCM websocket, Prometheus metrics
// and an MCP endpoint for agents.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/lifelogger/internal/capture"
	"github.com/MrWong99/lifelogger/internal/health"
	"github.com/MrWong99/lifelogger/internal/ingest"
	"github.com/MrWong99/lifelogger/internal/observe"
	"github.com/MrWong99/lifelogger/pkg/audio"
	"github.com/MrWong99/lifelogger/pkg/codec"
)

// DefaultFormat is used by /get_audio when no format is given.
const DefaultFormat = "pcm"

// normalizePeak is the target peak for ?normalize=true.
const normalizePeak = 0.95

// Buffer is the read side of the shared ring buffer.
type Buffer interface {
	Snapshot(d time.Duration) audio.Snapshot
	SampleRate() uint32
	Capacity() int
	Duration() time.Duration
}

// Subscriber hands out hub subscriptions for live listeners.
type Subscriber interface {
	Subscribe(name string) *ingest.Subscription
}

// CaptureStatus reports the capture manager's state.
type CaptureStatus interface {
	State() capture.State
	Active() (capture.Device, capture.StreamConfig, bool)
}

// Config wires a [Server].
type Config struct {
	// Buffer and Codecs are required.
	Buffer Buffer
	Codecs *codec.Registry

	// Hub enables /live when set.
	Hub Subscriber

	// Capture adds device details to the MCP buffer_status tool.
	Capture CaptureStatus

	// Health serves /health, /healthz and /readyz. Defaults to a handler
	// without readiness checks.
	Health *health.Handler

	// MetricsHandler serves /metrics. Defaults to [observe.MetricsHandler].
	MetricsHandler http.Handler

	// MCP enables the /mcp endpoint.
	MCP bool

	// Version is reported in the banner and to MCP clients.
	Version string

	// LiveOrigins are extra websocket origin patterns accepted by /live.
	LiveOrigins []string

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server holds the HTTP handlers. Build the handler chain once with
// [Server.Handler].
type Server struct {
	buf      Buffer
	codecs   *codec.Registry
	hub      Subscriber
	capture  CaptureStatus
	health   *health.Handler
	promHTTP http.Handler
	mcp      bool
	version  string
	origins  []string
	metrics  *observe.Metrics
	log      *slog.Logger
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	var errs []error
	if cfg.Buffer == nil {
		errs = append(errs, errors.New("buffer is required"))
	}
	if cfg.Codecs == nil {
		errs = append(errs, errors.New("codec registry is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s := &Server{
		buf:      cfg.Buffer,
		codecs:   cfg.Codecs,
		hub:      cfg.Hub,
		capture:  cfg.Capture,
		health:   cfg.Health,
		promHTTP: cfg.MetricsHandler,
		mcp:      cfg.MCP,
		version:  cfg.Version,
		origins:  cfg.LiveOrigins,
		metrics:  observe.OrDefault(cfg.Metrics),
		log:      cfg.Logger,
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.promHTTP == nil {
		s.promHTTP = observe.MetricsHandler()
	}
	if s.version == "" {
		s.version = "dev"
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s, nil
}

// Handler returns every route wrapped in the tracing and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	s.health.Register(mux)
	mux.HandleFunc("GET /codecs", s.handleCodecs)
	mux.HandleFunc("GET /get_audio", s.handleGetAudio)
	mux.Handle("GET /metrics", s.promHTTP)
	if s.hub != nil {
		mux.HandleFunc("GET /live", s.handleLive)
	}
	if s.mcp {
		mux.Handle("/mcp", s.mcpHandler())
	}
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "lifelogger %s: keeping the last %s of audio at %d Hz.\n",
		s.version, s.buf.Duration().Round(time.Second), s.buf.SampleRate())
	fmt.Fprintln(w, "GET /get_audio?format=<codec>&duration=<d>&normalize=<bool>")
}

// CodecInfo describes one registered codec.
type CodecInfo struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Extension string `json:"extension"`
	Kind      string `json:"kind"`
	Bitrate   int    `json:"bitrate,omitempty"`
}

func (s *Server) codecInfos() []CodecInfo {
	entries := s.codecs.Entries()
	out := make([]CodecInfo, 0, len(entries))
	for _, e := range entries {
		info := CodecInfo{
			Name:      e.Name,
			MimeType:  e.Codec.MimeType(),
			Extension: e.Codec.Extension(),
			Kind:      e.Codec.Kind().String(),
		}
		if tb, ok := e.Codec.(codec.TargetBitrate); ok {
			info.Bitrate = tb.Bitrate()
		}
		out = append(out, info)
	}
	return out
}

func (s *Server) handleCodecs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"codecs": s.codecInfos()})
}

// handleGetAudio serves GET /get_audio. Without a duration the whole buffer
// is encoded; duration=0 yields an empty clip. Non-finite durations are
// rejected.
func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := strings.ToLower(q.Get("format"))
	if format == "" {
		format = DefaultFormat
	}
	d, err := parseDuration(q.Get("duration"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	normalize := false
	if v := q.Get("normalize"); v != "" {
		if normalize, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid normalize %q", v))
			return
		}
	}

	c, data, err := s.encode(r.Context(), format, d, normalize)
	switch {
	case errors.Is(err, codec.ErrUnknownCodec):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported audio format %q", format))
		return
	case err != nil:
		observe.Logger(r.Context()).Error("encode failed", "format", format, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to encode audio")
		return
	}

	w.Header().Set("Content-Type", c.MimeType())
	w.Header().Set("Content-Disposition", codec.ContentDisposition(c))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		observe.Logger(r.Context()).Debug("client went away during download", "err", err)
	}
}

// encode snapshots the last d of audio and encodes it with the codec
// registered as format. d of [wholeBuffer] takes every retained sample; zero
// encodes an empty clip.
func (s *Server) encode(ctx context.Context, format string, d time.Duration, normalize bool) (codec.Codec, []byte, error) {
	c, err := s.codecs.Lookup(format)
	if err != nil {
		return nil, nil, err
	}
	var snap audio.Snapshot
	switch {
	case d == wholeBuffer:
		snap = s.buf.Snapshot(0)
	case d > 0:
		snap = s.buf.Snapshot(d)
	default:
		snap = audio.Snapshot{SampleRate: s.buf.SampleRate()}
	}
	if normalize {
		audio.Normalize(snap.Samples, normalizePeak)
	}
	ctx, end := observe.StartEncode(ctx, format, len(snap.Samples), snap.SampleRate)
	start := time.Now()
	data, err := c.Encode(snap.Samples, snap.SampleRate)
	s.metrics.RecordEncode(ctx, format, time.Since(start), err)
	end(err)
	if err != nil {
		return nil, nil, err
	}
	observe.Logger(ctx).Debug("audio encoded", "format", format, "samples", len(snap.Samples), "bytes", len(data))
	return c, data, nil
}

// wholeBuffer selects every retained sample in [Server.encode].
const wholeBuffer time.Duration = -1

// parseDuration accepts Go durations ("90s") and bare seconds ("90"). An
// empty string selects the whole buffer; an explicit zero selects nothing.
func parseDuration(v string) (time.Duration, error) {
	if v == "" {
		return wholeBuffer, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		secs, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		if ns := secs * float64(time.Second); ns >= math.MaxInt64 {
			d = math.MaxInt64
		} else {
			d = time.Duration(ns)
		}
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", v)
	}
	return d, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
