package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/durable-streams/streamd/internal/metrics"
	"github.com/durable-streams/streamd/internal/store"
)

// handleCreate serves PUT: create a stream, idempotently for an identical
// configuration.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request, path string) error {
	contentType := r.Header.Get("Content-Type")
	ttlStr := r.Header.Get(HeaderStreamTTL)
	expiresAtStr := r.Header.Get(HeaderStreamExpiresAt)

	if ttlStr != "" && expiresAtStr != "" {
		return newHTTPError(http.StatusBadRequest, "cannot specify both Stream-TTL and Stream-Expires-At")
	}

	var ttlSeconds *int64
	if ttlStr != "" {
		ttl, err := parseTTL(ttlStr)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, err.Error())
		}
		ttlSeconds = &ttl
	}

	var expiresAt *time.Time
	if expiresAtStr != "" {
		t, err := time.Parse(time.RFC3339, expiresAtStr)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "invalid Stream-Expires-At format")
		}
		expiresAt = &t
	}

	initialData, err := readBody(w, r)
	if err != nil {
		return err
	}

	meta, created, err := h.store.Create(path, store.CreateOptions{
		ContentType: contentType,
		TTLSeconds:  ttlSeconds,
		ExpiresAt:   expiresAt,
		InitialData: initialData,
	})
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set(HeaderStreamNextOffset, meta.CurrentOffset.String())

	if created {
		metrics.StreamsCreatedTotal.Inc()
		w.Header().Set("Location", requestURL(r))
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	return nil
}

// handleHead serves HEAD: stream metadata only, never cached.
func (h *Handler) handleHead(w http.ResponseWriter, _ *http.Request, path string) error {
	meta, err := h.store.Get(path)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set(HeaderStreamNextOffset, meta.CurrentOffset.String())
	w.Header().Set("Cache-Control", "no-store")
	if meta.TTLSeconds != nil {
		w.Header().Set(HeaderStreamTTL, strconv.FormatInt(*meta.TTLSeconds, 10))
	}
	if meta.ExpiresAt != nil {
		w.Header().Set(HeaderStreamExpiresAt, meta.ExpiresAt.Format(time.RFC3339))
	}

	w.WriteHeader(http.StatusOK)
	return nil
}

// handleAppend serves POST.
func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request, path string) error {
	meta, err := h.store.Get(path)
	if err != nil {
		return err
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return newHTTPError(http.StatusBadRequest, "Content-Type header is required")
	}
	// Reject a mismatched type before draining the body.
	if !store.ContentTypeMatches(meta.ContentType, contentType) {
		return newHTTPError(http.StatusConflict, "content type mismatch")
	}

	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return newHTTPError(http.StatusBadRequest, "empty body not allowed")
	}

	newOffset, err := h.store.Append(path, body, store.AppendOptions{
		Seq:         r.Header.Get(HeaderStreamSeq),
		ContentType: contentType,
	})
	if err != nil {
		return err
	}

	metrics.AppendsTotal.Inc()
	metrics.AppendBytesTotal.Add(float64(len(body)))

	w.Header().Set(HeaderStreamNextOffset, newOffset.String())
	w.WriteHeader(http.StatusOK)
	return nil
}

// handleDelete serves DELETE.
func (h *Handler) handleDelete(w http.ResponseWriter, _ *http.Request, path string) error {
	if err := h.store.Delete(path); err != nil {
		return err
	}
	metrics.StreamsDeletedTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// readBody drains the request body, capping it at the maximum frame size.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limited := http.MaxBytesReader(w, r.Body, store.MaxMessageSize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, newHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
		}
		return nil, newHTTPError(http.StatusBadRequest, "failed to read body")
	}
	if len(body) > store.MaxMessageSize {
		return nil, newHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return body, nil
}

// requestURL rebuilds the absolute URL for the Location header, honoring
// X-Forwarded-Proto behind a proxy.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.Path)
}

// ttlPattern accepts positive decimal integers with no sign, no leading
// zero and no fraction.
var ttlPattern = regexp.MustCompile(`^[1-9][0-9]*$`)

func parseTTL(s string) (int64, error) {
	if !ttlPattern.MatchString(s) {
		return 0, fmt.Errorf("invalid Stream-TTL: must be a positive integer without leading zeros")
	}
	ttl, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid Stream-TTL: %w", err)
	}
	return ttl, nil
}
