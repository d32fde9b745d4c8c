package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps streams in memory. It mirrors the FileStore's offset
// arithmetic (including framing overhead) so clients observe identical
// positions, and is used when no data directory is configured and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	streams  map[string]*memoryStream
	registry *WaiterRegistry
}

type memoryStream struct {
	metadata StreamMetadata
	messages []Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:  make(map[string]*memoryStream),
		registry: NewWaiterRegistry(),
	}
}

// Registry exposes the waiter registry, e.g. for metrics hooks.
func (s *MemoryStore) Registry() *WaiterRegistry {
	return s.registry
}

func (s *MemoryStore) Create(path string, opts CreateOptions) (*StreamMetadata, bool, error) {
	if opts.TTLSeconds != nil && opts.ExpiresAt != nil {
		return nil, false, fmt.Errorf("%w: TTL and expiry are mutually exclusive", ErrInvalidExpiry)
	}
	if opts.TTLSeconds != nil && *opts.TTLSeconds <= 0 {
		return nil, false, fmt.Errorf("%w: TTL must be positive", ErrInvalidExpiry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.streams[path]; ok {
		if existing.metadata.IsExpired() {
			delete(s.streams, path)
		} else if existing.metadata.ConfigMatches(opts) {
			meta := existing.metadata
			return &meta, false, nil
		} else {
			return nil, false, ErrConfigMismatch
		}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	stream := &memoryStream{
		metadata: StreamMetadata{
			Path:          path,
			ID:            uuid.NewString(),
			ContentType:   contentType,
			CurrentOffset: ZeroOffset,
			TTLSeconds:    opts.TTLSeconds,
			ExpiresAt:     opts.ExpiresAt,
			CreatedAt:     time.Now(),
		},
	}

	if len(opts.InitialData) > 0 {
		newOffset, err := appendMessages(stream, opts.InitialData, true)
		if err != nil {
			return nil, false, err
		}
		stream.metadata.CurrentOffset = newOffset
	}

	s.streams[path] = stream
	meta := stream.metadata
	return &meta, true, nil
}

func (s *MemoryStore) Get(path string) (*StreamMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream, ok := s.streams[path]
	if !ok || stream.metadata.IsExpired() {
		return nil, ErrStreamNotFound
	}
	meta := stream.metadata
	return &meta, nil
}

func (s *MemoryStore) Has(path string) bool {
	_, err := s.Get(path)
	return err == nil
}

func (s *MemoryStore) Delete(path string) error {
	s.mu.Lock()
	_, ok := s.streams[path]
	delete(s.streams, path)
	s.mu.Unlock()

	if !ok {
		return ErrStreamNotFound
	}
	s.registry.Drop(path)
	return nil
}

func (s *MemoryStore) Append(path string, data []byte, opts AppendOptions) (Offset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.streams[path]
	if !ok || stream.metadata.IsExpired() {
		return Offset{}, ErrStreamNotFound
	}

	if len(data) == 0 {
		return Offset{}, ErrEmptyBody
	}
	if opts.ContentType != "" && !ContentTypeMatches(stream.metadata.ContentType, opts.ContentType) {
		return Offset{}, ErrContentTypeMismatch
	}
	if opts.Seq != "" && stream.metadata.LastSeq != "" && opts.Seq <= stream.metadata.LastSeq {
		return Offset{}, ErrSequenceConflict
	}

	newOffset, err := appendMessages(stream, data, false)
	if err != nil {
		return Offset{}, err
	}

	stream.metadata.CurrentOffset = newOffset
	if opts.Seq != "" {
		stream.metadata.LastSeq = opts.Seq
	}

	s.registry.Notify(path)
	return newOffset, nil
}

// appendMessages splits data per the stream's content mode and records each
// message with its post-write offset. Caller holds s.mu.
func appendMessages(stream *memoryStream, data []byte, allowEmptyArray bool) (Offset, error) {
	var payloads [][]byte
	if stream.metadata.IsJSON() {
		var err error
		payloads, err = splitJSONAppend(data, allowEmptyArray)
		if err != nil {
			return Offset{}, err
		}
	} else {
		payloads = [][]byte{data}
	}

	offset := stream.metadata.CurrentOffset
	for _, p := range payloads {
		if len(p) > MaxMessageSize {
			return Offset{}, ErrMessageTooLarge
		}
		offset = offset.Next(FrameLen(len(p)))
		stream.messages = append(stream.messages, Message{Data: p, Offset: offset})
	}
	return offset, nil
}

func (s *MemoryStore) Read(path string, offset Offset) ([]Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream, ok := s.streams[path]
	if !ok || stream.metadata.IsExpired() {
		return nil, false, ErrStreamNotFound
	}

	var messages []Message
	for _, msg := range stream.messages {
		if offset.LessThan(msg.Offset) {
			messages = append(messages, msg)
		}
	}

	upToDate := len(messages) == 0 ||
		messages[len(messages)-1].Offset.Equal(stream.metadata.CurrentOffset)
	return messages, upToDate, nil
}

func (s *MemoryStore) WaitForMessages(ctx context.Context, path string, offset Offset, timeout time.Duration) ([]Message, bool, error) {
	messages, _, err := s.Read(path, offset)
	if err != nil {
		return nil, false, err
	}
	if len(messages) > 0 {
		return messages, false, nil
	}

	ch, cancel := s.registry.Register(path)
	defer cancel()

	messages, _, err = s.Read(path, offset)
	if err != nil {
		return nil, false, err
	}
	if len(messages) > 0 {
		return messages, false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case reason := <-ch:
			if reason == WakeGone {
				return nil, false, ErrStreamNotFound
			}
			messages, _, err := s.Read(path, offset)
			if err != nil {
				return nil, false, err
			}
			if len(messages) > 0 {
				return messages, false, nil
			}
		case <-timer.C:
			return nil, true, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func (s *MemoryStore) CurrentOffset(path string) (Offset, error) {
	meta, err := s.Get(path)
	if err != nil {
		return Offset{}, err
	}
	return meta.CurrentOffset, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
