package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Offset is a position within a stream. ReadSeq counts visible messages,
// ByteOffset is the byte position in the segment file after the message's
// frame. The textual form "%016d_%016d" sorts lexicographically in the same
// order as (ReadSeq, ByteOffset).
type Offset struct {
	ReadSeq    uint64
	ByteOffset uint64
}

// ZeroOffset is the position before the first message of a stream.
var ZeroOffset = Offset{}

// String renders the canonical zero-padded form.
func (o Offset) String() string {
	return fmt.Sprintf("%016d_%016d", o.ReadSeq, o.ByteOffset)
}

// IsZero reports whether this is the start-of-stream position.
func (o Offset) IsZero() bool {
	return o.ReadSeq == 0 && o.ByteOffset == 0
}

// Next returns the offset after one more message whose on-disk frame occupies
// frameLen bytes (prefix, payload and delimiter included).
func (o Offset) Next(frameLen uint64) Offset {
	return Offset{
		ReadSeq:    o.ReadSeq + 1,
		ByteOffset: o.ByteOffset + frameLen,
	}
}

// ParseOffset parses an offset string. The literal "-1" (and the empty
// string) mean "start of stream". Each component must be plain decimal:
// either exactly 16 zero-padded digits, or an unpadded digit run with no
// leading zero. Signs, fractions and scientific notation are rejected.
func ParseOffset(s string) (Offset, error) {
	if s == "" || s == "-1" {
		return ZeroOffset, nil
	}

	readPart, bytePart, ok := strings.Cut(s, "_")
	if !ok || strings.Contains(bytePart, "_") {
		return Offset{}, fmt.Errorf("%w: expected 'readseq_byteoffset'", ErrInvalidOffset)
	}

	readSeq, err := parseOffsetPart(readPart)
	if err != nil {
		return Offset{}, err
	}
	byteOffset, err := parseOffsetPart(bytePart)
	if err != nil {
		return Offset{}, err
	}

	return Offset{ReadSeq: readSeq, ByteOffset: byteOffset}, nil
}

func parseOffsetPart(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty component", ErrInvalidOffset)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: non-digit character", ErrInvalidOffset)
		}
	}
	// Leading zeros are only valid as part of the 16-digit pad.
	if len(s) != 16 && len(s) > 1 && s[0] == '0' {
		return 0, fmt.Errorf("%w: leading zero", ErrInvalidOffset)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidOffset)
	}
	return v, nil
}

// Compare returns -1, 0 or 1 ordering a before, equal to, or after b.
func Compare(a, b Offset) int {
	switch {
	case a.ReadSeq < b.ReadSeq:
		return -1
	case a.ReadSeq > b.ReadSeq:
		return 1
	case a.ByteOffset < b.ByteOffset:
		return -1
	case a.ByteOffset > b.ByteOffset:
		return 1
	}
	return 0
}

// LessThan reports o < other.
func (o Offset) LessThan(other Offset) bool {
	return Compare(o, other) < 0
}

// Equal reports o == other.
func (o Offset) Equal(other Offset) bool {
	return Compare(o, other) == 0
}
