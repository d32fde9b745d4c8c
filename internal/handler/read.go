package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/durable-streams/streamd/internal/metrics"
	"github.com/durable-streams/streamd/internal/store"
)

// Live modes of GET.
const (
	liveLongPoll = "long-poll"
	liveSSE      = "sse"
	liveAuto     = "auto"
)

const historicalCacheControl = "public, max-age=60, stale-while-revalidate=300"

// handleRead serves GET: catch-up, long-poll or SSE depending on the live
// query parameter.
func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request, path string) error {
	meta, err := h.store.Get(path)
	if err != nil {
		return err
	}

	query := r.URL.Query()

	offsetValues, offsetProvided := query["offset"]
	offsetStr := ""
	if offsetProvided {
		if len(offsetValues) > 1 {
			return newHTTPError(http.StatusBadRequest, "multiple offset parameters not allowed")
		}
		offsetStr = offsetValues[0]
		if offsetStr == "" {
			return newHTTPError(http.StatusBadRequest, "offset parameter cannot be empty")
		}
	}
	offset, err := store.ParseOffset(offsetStr)
	if err != nil {
		return newHTTPError(http.StatusBadRequest, "invalid offset")
	}

	live := query.Get("live")
	clientCursor := query.Get("cursor")

	if live == liveAuto {
		if store.IsTextualContentType(meta.ContentType) || store.IsJSONContentType(meta.ContentType) {
			live = liveSSE
		} else {
			live = liveLongPoll
		}
	}

	switch live {
	case "":
		metrics.ReadsTotal.WithLabelValues("catchup").Inc()
		return h.serveCatchUp(w, r, path, meta, offset)
	case liveLongPoll:
		if !offsetProvided {
			return newHTTPError(http.StatusBadRequest, "offset required for long-poll mode")
		}
		metrics.ReadsTotal.WithLabelValues("long-poll").Inc()
		return h.serveLongPoll(w, r, path, meta, offset, clientCursor)
	case liveSSE:
		// An absent offset means the stream start, as in catch-up: the
		// client resumes from the control events thereafter.
		metrics.ReadsTotal.WithLabelValues("sse").Inc()
		return h.serveSSE(w, r, path, meta, offset, clientCursor)
	default:
		return newHTTPError(http.StatusBadRequest, "invalid live mode")
	}
}

// serveCatchUp returns all committed data from offset, with CDN cache
// headers and conditional-request support.
func (h *Handler) serveCatchUp(w http.ResponseWriter, r *http.Request, path string, meta *store.StreamMetadata, offset store.Offset) error {
	messages, upToDate, err := h.store.Read(path, offset)
	if err != nil {
		return err
	}

	nextOffset := offset
	if len(messages) > 0 {
		nextOffset = messages[len(messages)-1].Offset
	}

	etag := streamETag(meta.ID, offset, nextOffset)
	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set(HeaderStreamNextOffset, nextOffset.String())
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", historicalCacheControl)
	if upToDate {
		w.Header().Set(HeaderStreamUpToDate, "true")
	}

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	w.WriteHeader(http.StatusOK)
	w.Write(store.EncodeResponse(meta.ContentType, messages))
	return nil
}

// serveLongPoll blocks until data past offset arrives or the long-poll
// timeout fires. Responses are never cached; the cursor keeps CDN-collapsed
// concurrent polls from looping.
func (h *Handler) serveLongPoll(w http.ResponseWriter, r *http.Request, path string, meta *store.StreamMetadata, offset store.Offset, clientCursor string) error {
	messages, _, err := h.store.Read(path, offset)
	if err != nil {
		return err
	}

	if len(messages) == 0 {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		var timedOut bool
		messages, timedOut, err = h.store.WaitForMessages(ctx, path, offset, h.opts.LongPollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Client went away; the 204 is written into the void.
				timedOut = true
				err = nil
			} else {
				return err
			}
		}
		if timedOut || len(messages) == 0 {
			w.Header().Set("Content-Type", meta.ContentType)
			w.Header().Set(HeaderStreamNextOffset, offset.String())
			w.Header().Set(HeaderStreamUpToDate, "true")
			w.Header().Set(HeaderStreamCursor, h.cursor.Next(clientCursor))
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusNoContent)
			return nil
		}
	}

	nextOffset := messages[len(messages)-1].Offset

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set(HeaderStreamNextOffset, nextOffset.String())
	w.Header().Set(HeaderStreamUpToDate, "true")
	w.Header().Set(HeaderStreamCursor, h.cursor.Next(clientCursor))
	w.WriteHeader(http.StatusOK)
	w.Write(store.EncodeResponse(meta.ContentType, messages))
	return nil
}

// streamETag builds the conditional-request tag for a historical range.
func streamETag(streamID string, from, to store.Offset) string {
	return fmt.Sprintf(`"%s:%s:%s"`, streamID, from.String(), to.String())
}
