// Package handler implements the Durable Streams HTTP protocol surface.
package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/durable-streams/streamd/internal/cursor"
	"github.com/durable-streams/streamd/internal/store"
)

// Protocol header names.
const (
	HeaderStreamNextOffset = "Stream-Next-Offset"
	HeaderStreamCursor     = "Stream-Cursor"
	HeaderStreamUpToDate   = "Stream-Up-To-Date"
	HeaderStreamSeq        = "Stream-Seq"
	HeaderStreamTTL        = "Stream-TTL"
	HeaderStreamExpiresAt  = "Stream-Expires-At"
)

const streamRoutePrefix = "/v1/stream"

// Options are the tunables of the protocol surface.
type Options struct {
	LongPollTimeout      time.Duration
	SSEReconnectInterval time.Duration
}

// Handler serves the stream protocol over a Store.
type Handler struct {
	store  store.Store
	cursor *cursor.Engine
	opts   Options
	logger *zap.Logger
}

// New creates a handler. Zero option fields select the protocol defaults.
func New(st store.Store, cur *cursor.Engine, opts Options, logger *zap.Logger) *Handler {
	if opts.LongPollTimeout <= 0 {
		opts.LongPollTimeout = 30 * time.Second
	}
	if opts.SSEReconnectInterval <= 0 {
		opts.SSEReconnectInterval = 60 * time.Second
	}
	if cur == nil {
		cur = cursor.New(time.Time{}, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: st, cursor: cur, opts: opts, logger: logger}
}

// Router builds the HTTP mux: the stream protocol under /v1/stream/, plus
// health and metrics endpoints.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(accessLog(h.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc(streamRoutePrefix+"/*", h.ServeStream)

	return r
}

// ServeStream dispatches one protocol request by method.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request) {
	// Protocol CORS surface: methods and headers a browser client needs.
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Content-Type, Stream-Seq, Stream-TTL, Stream-Expires-At, If-None-Match")
	hdr.Set("Access-Control-Expose-Headers", "Stream-Next-Offset, Stream-Cursor, Stream-Up-To-Date, ETag, Location")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	path, err := streamPath(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	switch r.Method {
	case http.MethodPut:
		err = h.handleCreate(w, r, path)
	case http.MethodHead:
		err = h.handleHead(w, r, path)
	case http.MethodGet:
		err = h.handleRead(w, r, path)
	case http.MethodPost:
		err = h.handleAppend(w, r, path)
	case http.MethodDelete:
		err = h.handleDelete(w, r, path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		h.writeError(w, err)
	}
}

// streamPath extracts and decodes the stream path from the request URL.
func streamPath(r *http.Request) (string, error) {
	raw := strings.TrimPrefix(r.URL.EscapedPath(), streamRoutePrefix+"/")
	if raw == "" || raw == r.URL.EscapedPath() {
		return "", newHTTPError(http.StatusNotFound, "no stream path")
	}
	path, err := url.PathUnescape(raw)
	if err != nil {
		return "", newHTTPError(http.StatusBadRequest, "invalid stream path encoding")
	}
	return path, nil
}

// httpError carries a status for handler-level failures.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string {
	return e.message
}

func newHTTPError(status int, message string) *httpError {
	return &httpError{status: status, message: message}
}

// writeError maps store error kinds and handler errors to HTTP responses.
// Internal detail is logged, never sent to the client.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		http.Error(w, httpErr.message, httpErr.status)
		return
	}

	switch {
	case errors.Is(err, store.ErrStreamNotFound):
		http.Error(w, "stream not found", http.StatusNotFound)
	case errors.Is(err, store.ErrConfigMismatch):
		http.Error(w, "stream exists with different configuration", http.StatusConflict)
	case errors.Is(err, store.ErrContentTypeMismatch):
		http.Error(w, "content type mismatch", http.StatusConflict)
	case errors.Is(err, store.ErrSequenceConflict):
		http.Error(w, "sequence conflict", http.StatusConflict)
	case errors.Is(err, store.ErrEmptyBody):
		http.Error(w, "empty body not allowed", http.StatusBadRequest)
	case errors.Is(err, store.ErrInvalidOffset):
		http.Error(w, "invalid offset", http.StatusBadRequest)
	case errors.Is(err, store.ErrInvalidJSON):
		http.Error(w, "invalid JSON", http.StatusBadRequest)
	case errors.Is(err, store.ErrEmptyJSONArray):
		http.Error(w, "empty JSON array not allowed", http.StatusBadRequest)
	case errors.Is(err, store.ErrInvalidExpiry):
		http.Error(w, "invalid expiry configuration", http.StatusBadRequest)
	case errors.Is(err, store.ErrMessageTooLarge):
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, store.ErrOffsetGone):
		http.Error(w, "offset no longer available", http.StatusGone)
	default:
		h.logger.Error("internal error", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
