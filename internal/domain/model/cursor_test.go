package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Cursor
		want int
	}{
		{"equal", Cursor{100, 5}, Cursor{100, 5}, 0},
		{"earlier block", Cursor{99, 9}, Cursor{100, 0}, -1},
		{"later block", Cursor{101, 0}, Cursor{100, 9}, 1},
		{"same block earlier log", Cursor{100, 3}, Cursor{100, 5}, -1},
		{"same block later log", Cursor{100, 7}, Cursor{100, 5}, 1},
		{"zero vs any", Cursor{}, Cursor{1, 0}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
			assert.Equal(t, -tt.want, tt.b.Compare(tt.a))
		})
	}
}

func TestCursorAfterAndMax(t *testing.T) {
	earlier := Cursor{BlockNumber: 100, LogIndex: 2}
	later := Cursor{BlockNumber: 100, LogIndex: 3}

	assert.True(t, later.After(earlier))
	assert.False(t, earlier.After(later))
	assert.False(t, later.After(later))

	assert.Equal(t, later, earlier.Max(later))
	assert.Equal(t, later, later.Max(earlier))
}

func TestCursorIsZero(t *testing.T) {
	assert.True(t, Cursor{}.IsZero())
	assert.False(t, Cursor{BlockNumber: 1}.IsZero())
	assert.False(t, Cursor{LogIndex: 1}.IsZero())
}

func TestParseCursorRoundTrip(t *testing.T) {
	in := Cursor{BlockNumber: 18000123, LogIndex: 42}

	out, err := ParseCursor(in.String())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseCursorRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "100", "abc:5", "100:xyz", "-1:5", "100:-5"} {
		t.Run(s, func(t *testing.T) {
			_, err := ParseCursor(s)
			assert.Error(t, err)
		})
	}
}
