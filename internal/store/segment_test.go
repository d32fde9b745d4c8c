package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTestFrames(t *testing.T, path string, payloads [][]byte) Offset {
	t.Helper()
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	defer file.Close()

	offset, err := ScanTrueOffset(path)
	if err != nil {
		t.Fatalf("scan before write: %v", err)
	}
	for _, p := range payloads {
		if _, err := WriteFrame(file, p); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
		offset = offset.Next(FrameLen(len(p)))
	}
	return offset
}

func TestWriteFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte("hello world")},
		{"binary", []byte{0x00, 0x01, 0x02, 0xff, 0xfe}},
		{"embedded newlines", []byte("line1\nline2\n")},
		{"large", bytes.Repeat([]byte("x"), 1024*1024)}, // 1MB
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			n, err := WriteFrame(&buf, tt.data)
			if err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			if uint64(n) != FrameLen(len(tt.data)) {
				t.Errorf("wrote %d bytes, expected %d", n, FrameLen(len(tt.data)))
			}

			// Frame must end with the delimiter.
			raw := buf.Bytes()
			if raw[len(raw)-1] != '\n' {
				t.Error("frame missing trailing newline")
			}
		})
	}
}

func TestSegmentReaderReadFrom(t *testing.T) {
	tmpDir := t.TempDir()
	segPath := filepath.Join(tmpDir, SegmentFileName)

	payloads := [][]byte{
		[]byte(`{"id": 1}`),
		[]byte(`{"id": 2}`),
		[]byte(`{"id": 3}`),
	}
	finalOffset := writeTestFrames(t, segPath, payloads)

	reader, err := NewSegmentReader(segPath)
	if err != nil {
		t.Fatalf("failed to create reader: %v", err)
	}
	defer reader.Close()

	messages, end, err := reader.ReadFrom(ZeroOffset)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if len(messages) != len(payloads) {
		t.Fatalf("read %d messages, want %d", len(messages), len(payloads))
	}
	for i, msg := range messages {
		if !bytes.Equal(msg.Data, payloads[i]) {
			t.Errorf("message %d mismatch", i)
		}
	}
	if !end.Equal(finalOffset) {
		t.Errorf("end offset %v != written offset %v", end, finalOffset)
	}

	// Each message offset counts one message and its frame bytes.
	if messages[0].Offset.ReadSeq != 1 {
		t.Errorf("first message ReadSeq = %d, want 1", messages[0].Offset.ReadSeq)
	}
	if messages[0].Offset.ByteOffset != FrameLen(len(payloads[0])) {
		t.Errorf("first message ByteOffset = %d, want %d",
			messages[0].Offset.ByteOffset, FrameLen(len(payloads[0])))
	}
}

func TestSegmentReaderFromOffset(t *testing.T) {
	tmpDir := t.TempDir()
	segPath := filepath.Join(tmpDir, SegmentFileName)

	payloads := [][]byte{
		[]byte(`{"id": 1}`),
		[]byte(`{"id": 2}`),
		[]byte(`{"id": 3}`),
	}
	writeTestFrames(t, segPath, payloads)

	reader, err := NewSegmentReader(segPath)
	if err != nil {
		t.Fatalf("failed to create reader: %v", err)
	}
	defer reader.Close()

	// Start after the first message.
	start := ZeroOffset.Next(FrameLen(len(payloads[0])))
	messages, _, err := reader.ReadFrom(start)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}

	if len(messages) != 2 {
		t.Fatalf("read %d messages, want 2", len(messages))
	}
	if !bytes.Equal(messages[0].Data, payloads[1]) {
		t.Errorf("first message mismatch")
	}
	if !bytes.Equal(messages[1].Data, payloads[2]) {
		t.Errorf("second message mismatch")
	}
	if messages[0].Offset.ReadSeq != start.ReadSeq+1 {
		t.Errorf("ReadSeq should continue from start: got %d", messages[0].Offset.ReadSeq)
	}
}

func TestScanTrueOffset(t *testing.T) {
	tmpDir := t.TempDir()
	segPath := filepath.Join(tmpDir, SegmentFileName)

	finalOffset := writeTestFrames(t, segPath, [][]byte{
		[]byte(`{"id": 1}`),
		[]byte(`{"id": 2}`),
	})

	scanned, err := ScanTrueOffset(segPath)
	if err != nil {
		t.Fatalf("ScanTrueOffset failed: %v", err)
	}
	if !scanned.Equal(finalOffset) {
		t.Errorf("scanned offset %v != written offset %v", scanned, finalOffset)
	}
}

func TestScanTrueOffsetNonExistent(t *testing.T) {
	offset, err := ScanTrueOffset(filepath.Join(t.TempDir(), "missing", SegmentFileName))
	if err != nil {
		t.Fatalf("ScanTrueOffset should not error for nonexistent: %v", err)
	}
	if !offset.Equal(ZeroOffset) {
		t.Errorf("expected zero offset for nonexistent, got %v", offset)
	}
}

func TestScanTrueOffsetTornFrame(t *testing.T) {
	tmpDir := t.TempDir()
	segPath := filepath.Join(tmpDir, SegmentFileName)

	completeOffset := writeTestFrames(t, segPath, [][]byte{
		[]byte(`{"complete": true}`),
	})

	// Append a torn frame: length prefix only, no payload or delimiter.
	file, err := os.OpenFile(segPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	file.Write([]byte{0x00, 0x00, 0x00, 0x10})
	file.Close()

	scanned, err := ScanTrueOffset(segPath)
	if err != nil {
		t.Fatalf("ScanTrueOffset failed: %v", err)
	}
	if !scanned.Equal(completeOffset) {
		t.Errorf("scanned offset %v != complete offset %v", scanned, completeOffset)
	}
}

func TestScanTrueOffsetMissingDelimiter(t *testing.T) {
	tmpDir := t.TempDir()
	segPath := filepath.Join(tmpDir, SegmentFileName)

	completeOffset := writeTestFrames(t, segPath, [][]byte{
		[]byte("good"),
	})

	// A frame whose payload is fully present but whose delimiter never made
	// it to disk is torn too.
	file, err := os.OpenFile(segPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	file.Write([]byte{0x00, 0x00, 0x00, 0x03})
	file.Write([]byte("bad"))
	file.Close()

	scanned, err := ScanTrueOffset(segPath)
	if err != nil {
		t.Fatalf("ScanTrueOffset failed: %v", err)
	}
	if !scanned.Equal(completeOffset) {
		t.Errorf("scanned offset %v != complete offset %v", scanned, completeOffset)
	}
}

func TestWriteFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	largeData := make([]byte, MaxMessageSize+1)

	_, err := WriteFrame(&buf, largeData)
	if err != ErrMessageTooLarge {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestCreateSegmentFile(t *testing.T) {
	tmpDir := t.TempDir()
	segPath := filepath.Join(tmpDir, SegmentFileName)

	if err := CreateSegmentFile(segPath); err != nil {
		t.Fatalf("CreateSegmentFile failed: %v", err)
	}

	info, err := os.Stat(segPath)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected empty file, got size %d", info.Size())
	}
}
