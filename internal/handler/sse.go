package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/durable-streams/streamd/internal/store"
)

// sseHeartbeatInterval is how often a control event goes out on an idle
// SSE connection, keeping intermediaries from timing out the socket.
const sseHeartbeatInterval = 15 * time.Second

// serveSSE streams messages as server-sent events. Only textual and JSON
// streams can be framed as SSE; binary streams must use long-poll.
func (h *Handler) serveSSE(w http.ResponseWriter, r *http.Request, path string, meta *store.StreamMetadata, offset store.Offset, clientCursor string) error {
	if !store.IsTextualContentType(meta.ContentType) && !store.IsJSONContentType(meta.ContentType) {
		return newHTTPError(http.StatusBadRequest, "SSE requires a textual or JSON stream")
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		return newHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	deadline := time.Now().Add(h.opts.SSEReconnectInterval)

	// Catch up first, then follow.
	messages, _, err := h.store.Read(path, offset)
	if err != nil {
		return nil // headers are gone; nothing more to report
	}
	if len(messages) > 0 {
		offset = messages[len(messages)-1].Offset
		writeSSEData(w, messages)
	}
	writeSSEControl(w, offset, h.cursor.Next(clientCursor))
	flusher.Flush()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			// Force a reconnect so the client picks up a fresh cursor.
			return nil
		}
		wait := sseHeartbeatInterval
		if remaining < wait {
			wait = remaining
		}

		messages, timedOut, err := h.store.WaitForMessages(ctx, path, offset, wait)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case errors.Is(err, store.ErrStreamNotFound):
			// Stream deleted out from under the reader.
			return nil
		case err != nil:
			h.logger.Warn("sse wait failed", zap.Error(err))
			return nil
		}

		if len(messages) > 0 {
			offset = messages[len(messages)-1].Offset
			writeSSEData(w, messages)
		} else if !timedOut {
			continue
		}
		// Recompute per event: the interval may have advanced since the
		// connection opened.
		writeSSEControl(w, offset, h.cursor.Next(clientCursor))
		flusher.Flush()
	}
}

// writeSSEData emits one data event per message, splitting payloads on
// newlines as the SSE wire format requires.
func writeSSEData(w http.ResponseWriter, messages []store.Message) {
	for _, msg := range messages {
		fmt.Fprint(w, "event: data\n")
		for _, line := range bytes.Split(msg.Data, []byte{'\n'}) {
			fmt.Fprintf(w, "data: %s\n", line)
		}
		fmt.Fprint(w, "\n")
	}
}

// writeSSEControl emits a control event carrying the reader's resume state.
func writeSSEControl(w http.ResponseWriter, offset store.Offset, cursorValue string) {
	fmt.Fprint(w, "event: control\n")
	fmt.Fprintf(w, "data: {\"streamNextOffset\":%q,\"streamCursor\":%q}\n\n", offset.String(), cursorValue)
}
