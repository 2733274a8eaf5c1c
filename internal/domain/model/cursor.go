package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Cursor marks the last processed position within one source stream.
// Totally ordered by (BlockNumber, LogIndex); the zero value is the start
// of the polling window.
type Cursor struct {
	BlockNumber int64
	LogIndex    int64
}

// Compare returns -1, 0, or 1 as c orders before, equal to, or after other.
func (c Cursor) Compare(other Cursor) int {
	if c.BlockNumber != other.BlockNumber {
		if c.BlockNumber < other.BlockNumber {
			return -1
		}
		return 1
	}
	if c.LogIndex != other.LogIndex {
		if c.LogIndex < other.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}

// After reports whether c is strictly after other.
func (c Cursor) After(other Cursor) bool { return c.Compare(other) > 0 }

// IsZero reports whether c is the start-of-window cursor.
func (c Cursor) IsZero() bool { return c.BlockNumber == 0 && c.LogIndex == 0 }

// Max returns the later of c and other.
func (c Cursor) Max(other Cursor) Cursor {
	if other.After(c) {
		return other
	}
	return c
}

func (c Cursor) String() string {
	return fmt.Sprintf("%d:%d", c.BlockNumber, c.LogIndex)
}

// ParseCursor parses the "block:logIndex" encoding produced by String.
func ParseCursor(s string) (Cursor, error) {
	block, logIndex, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Cursor{}, fmt.Errorf("malformed cursor %q", s)
	}
	b, err := strconv.ParseInt(block, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor block %q: %w", s, err)
	}
	l, err := strconv.ParseInt(logIndex, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor log index %q: %w", s, err)
	}
	if b < 0 || l < 0 {
		return Cursor{}, fmt.Errorf("negative cursor component %q", s)
	}
	return Cursor{BlockNumber: b, LogIndex: l}, nil
}
