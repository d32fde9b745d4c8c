package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error kinds returned by Store implementations. The HTTP layer maps these to
// status codes; everything else is treated as internal.
var (
	ErrStreamNotFound      = errors.New("stream not found")
	ErrConfigMismatch      = errors.New("stream configuration mismatch")
	ErrSequenceConflict    = errors.New("sequence conflict")
	ErrContentTypeMismatch = errors.New("content type mismatch")
	ErrEmptyBody           = errors.New("empty body not allowed")
	ErrInvalidOffset       = errors.New("invalid offset")
	ErrInvalidJSON         = errors.New("invalid JSON")
	ErrEmptyJSONArray      = errors.New("empty JSON array not allowed")
	ErrInvalidExpiry       = errors.New("invalid expiry configuration")
	ErrMessageTooLarge     = errors.New("message too large")
	ErrOffsetGone          = errors.New("offset below retention floor")
)

// DefaultContentType is assumed when a stream is created without one.
const DefaultContentType = "application/octet-stream"

// Store is the per-path facade over segment files, the metadata index and the
// waiter registry.
type Store interface {
	// Create makes a new stream, or succeeds idempotently when the stream
	// already exists with an identical configuration. The bool result is true
	// when the stream was newly created.
	Create(path string, opts CreateOptions) (*StreamMetadata, bool, error)

	// Get returns a copy of the stream's metadata, or ErrStreamNotFound if the
	// stream is absent or expired.
	Get(path string) (*StreamMetadata, error)

	// Has reports whether the stream exists and has not expired.
	Has(path string) bool

	// Delete removes the stream and wakes any blocked readers terminally.
	Delete(path string) error

	// Append writes one request body to the stream. JSON streams flatten
	// top-level arrays one level; every other content type appends a single
	// message. Returns the offset after the last written message.
	Append(path string, data []byte, opts AppendOptions) (Offset, error)

	// Read returns the messages whose post-write position is beyond offset,
	// and whether the result ends at the current tail.
	Read(path string, offset Offset) ([]Message, bool, error)

	// WaitForMessages blocks until messages past offset exist, the timeout
	// fires (timedOut=true, no messages), or ctx is cancelled.
	WaitForMessages(ctx context.Context, path string, offset Offset, timeout time.Duration) (messages []Message, timedOut bool, err error)

	// CurrentOffset returns the stream's tail offset.
	CurrentOffset(path string) (Offset, error)

	// Close releases all resources.
	Close() error
}

// CreateOptions configures a new stream. TTLSeconds and ExpiresAt are
// mutually exclusive.
type CreateOptions struct {
	ContentType string
	TTLSeconds  *int64
	ExpiresAt   *time.Time
	InitialData []byte
}

// AppendOptions carries the per-request append parameters.
type AppendOptions struct {
	// Seq is the Stream-Seq header value. When present it must be strictly
	// greater (byte-wise) than the last accepted value.
	Seq string
	// ContentType is validated against the stream's content type when set.
	ContentType string
}

// Message is one stream record together with its post-write position.
type Message struct {
	Data   []byte
	Offset Offset
}

// StreamMetadata is the descriptor held in the metadata index.
type StreamMetadata struct {
	Path          string
	ID            string // stable identifier, used as the ETag prefix
	ContentType   string
	CurrentOffset Offset
	LastSeq       string
	TTLSeconds    *int64
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

// IsExpired reports whether the stream's TTL or absolute expiry has passed.
func (m *StreamMetadata) IsExpired() bool {
	now := time.Now()
	if m.ExpiresAt != nil && now.After(*m.ExpiresAt) {
		return true
	}
	if m.TTLSeconds != nil {
		if now.After(m.CreatedAt.Add(time.Duration(*m.TTLSeconds) * time.Second)) {
			return true
		}
	}
	return false
}

// ConfigMatches reports whether opts describes the same configuration this
// stream was created with. Used to decide between idempotent PUT and 409.
func (m *StreamMetadata) ConfigMatches(opts CreateOptions) bool {
	if !ContentTypeMatches(m.ContentType, opts.ContentType) {
		return false
	}
	if (m.TTLSeconds == nil) != (opts.TTLSeconds == nil) {
		return false
	}
	if m.TTLSeconds != nil && *m.TTLSeconds != *opts.TTLSeconds {
		return false
	}
	if (m.ExpiresAt == nil) != (opts.ExpiresAt == nil) {
		return false
	}
	if m.ExpiresAt != nil && !m.ExpiresAt.Equal(*opts.ExpiresAt) {
		return false
	}
	return true
}

// IsJSON reports whether the stream is in JSON framing mode.
func (m *StreamMetadata) IsJSON() bool {
	return IsJSONContentType(m.ContentType)
}

// MediaType returns the content type without parameters.
func MediaType(ct string) string {
	base, _, _ := strings.Cut(ct, ";")
	return strings.TrimSpace(base)
}

// ContentTypeMatches compares two content types ignoring case and parameters.
// Empty values normalize to the default type.
func ContentTypeMatches(a, b string) bool {
	if a == "" {
		a = DefaultContentType
	}
	if b == "" {
		b = DefaultContentType
	}
	return strings.EqualFold(MediaType(a), MediaType(b))
}

// IsJSONContentType reports whether ct is application/json.
func IsJSONContentType(ct string) bool {
	return strings.EqualFold(MediaType(ct), "application/json")
}

// IsTextualContentType reports whether ct is a text/* type.
func IsTextualContentType(ct string) bool {
	mt := strings.ToLower(MediaType(ct))
	return strings.HasPrefix(mt, "text/")
}

// EncodeResponse assembles an HTTP response body for the given messages:
// a JSON array for JSON streams, raw concatenated payloads otherwise.
func EncodeResponse(contentType string, messages []Message) []byte {
	if IsJSONContentType(contentType) {
		return encodeJSONArray(messages)
	}
	var total int
	for _, msg := range messages {
		total += len(msg.Data)
	}
	out := make([]byte, 0, total)
	for _, msg := range messages {
		out = append(out, msg.Data...)
	}
	return out
}

func encodeJSONArray(messages []Message) []byte {
	if len(messages) == 0 {
		return []byte("[]")
	}
	total := 1 + len(messages) // brackets and commas
	for _, msg := range messages {
		total += len(msg.Data)
	}
	out := make([]byte, 0, total)
	out = append(out, '[')
	for i, msg := range messages {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, msg.Data...)
	}
	return append(out, ']')
}
