package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Segment file format. One file per stream; every message is framed as
//
//	[4-byte big-endian length][payload][0x0A]
//
// The trailing newline is redundant with the length prefix: a frame whose
// newline is missing was torn by a crash mid-write and is ignored by readers
// and by recovery.
const (
	// SegmentFileName is the single segment file inside a stream directory.
	SegmentFileName = "000000.log"

	framePrefixSize = 4
	frameDelimiter  = byte('\n')

	// FrameOverhead is the number of framing bytes added per message.
	FrameOverhead = framePrefixSize + 1

	// MaxMessageSize caps a single message payload (64 MiB).
	MaxMessageSize = 64 << 20
)

// FrameLen returns the on-disk size of one message's frame.
func FrameLen(payloadLen int) uint64 {
	return uint64(payloadLen) + FrameOverhead
}

// WriteFrame writes one framed message. Returns the number of bytes written.
func WriteFrame(w io.Writer, data []byte) (int, error) {
	if len(data) > MaxMessageSize {
		return 0, ErrMessageTooLarge
	}

	var prefix [framePrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))

	n, err := w.Write(prefix[:])
	if err != nil {
		return n, err
	}
	n2, err := w.Write(data)
	n += n2
	if err != nil {
		return n, err
	}
	n3, err := w.Write([]byte{frameDelimiter})
	return n + n3, err
}

// readFrame decodes one complete frame. It returns io.EOF both at a clean
// end of file and at a torn trailing frame, so callers stop at the last
// fully-written message without treating a crashed tail as corruption.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var prefix [framePrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxMessageSize {
		// Garbage length prefix: stop at the last good frame.
		return nil, io.EOF
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}

	delim, err := r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
	if delim != frameDelimiter {
		return nil, io.EOF
	}

	return data, nil
}

// SegmentReader decodes frames from a segment file starting at an arbitrary
// byte offset. Each reader owns its file handle; concurrent readers are
// independent.
type SegmentReader struct {
	file   *os.File
	reader *bufio.Reader
}

// NewSegmentReader opens the segment at path for reading.
func NewSegmentReader(path string) (*SegmentReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &SegmentReader{
		file:   file,
		reader: bufio.NewReaderSize(file, 64*1024),
	}, nil
}

// ReadFrom decodes all complete frames after start. The returned offsets are
// post-message positions derived from start; the second result is the
// position after the last decoded frame.
func (r *SegmentReader) ReadFrom(start Offset) ([]Message, Offset, error) {
	if _, err := r.file.Seek(int64(start.ByteOffset), io.SeekStart); err != nil {
		return nil, start, err
	}
	r.reader.Reset(r.file)

	var messages []Message
	current := start
	for {
		data, err := readFrame(r.reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return messages, current, err
		}
		current = current.Next(FrameLen(len(data)))
		messages = append(messages, Message{Data: data, Offset: current})
	}
	return messages, current, nil
}

// Close releases the reader's file handle.
func (r *SegmentReader) Close() error {
	return r.file.Close()
}

// ScanTrueOffset reads every complete frame in the segment and returns the
// ground-truth tail offset. Recovery uses this to reconcile the metadata
// index; the file always wins.
func ScanTrueOffset(path string) (Offset, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ZeroOffset, nil
		}
		return Offset{}, err
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 64*1024)
	offset := ZeroOffset
	for {
		data, err := readFrame(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return offset, err
		}
		offset = offset.Next(FrameLen(len(data)))
	}
	return offset, nil
}

// CreateSegmentFile creates an empty segment file.
func CreateSegmentFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create segment file: %w", err)
	}
	return file.Close()
}
