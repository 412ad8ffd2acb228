package recording

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkLedger_RegisterAndList(t *testing.T) {
	l := NewChunkLedger()

	c1, err := l.Register("s1", 2, "s1/2.webm", 100)
	require.NoError(t, err)
	c2, err := l.Register("s1", 0, "s1/0.webm", 50)
	require.NoError(t, err)
	_, err = l.Register("s2", 0, "s2/0.webm", 10)
	require.NoError(t, err)

	got := l.ListBySession("s1")
	require.Len(t, got, 2)
	assert.Equal(t, c1.ID, got[0].ID, "insertion order, not ordinal order")
	assert.Equal(t, c2.ID, got[1].ID)
	assert.Equal(t, 3, l.Len())

	fetched, err := l.Get(c1.ID)
	require.NoError(t, err)
	assert.Equal(t, c1, fetched)
}

func TestChunkLedger_DuplicateOrdinalsKept(t *testing.T) {
	l := NewChunkLedger()

	a, err := l.Register("s1", 3, "a", 1)
	require.NoError(t, err)
	b, err := l.Register("s1", 3, "b", 1)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, l.ListBySession("s1"), 2)
}

func TestChunkLedger_RegisterValidation(t *testing.T) {
	l := NewChunkLedger()

	_, err := l.Register("s1", -1, "x", 1)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = l.Register("", 0, "x", 1)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = l.Register("s1", 0, "x", -5)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, l.Len())
}

func TestChunkLedger_ListUnknownSessionIsEmpty(t *testing.T) {
	got := NewChunkLedger().ListBySession("nope")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestChunkLedger_ListReturnsCopy(t *testing.T) {
	l := NewChunkLedger()
	_, err := l.Register("s1", 0, "x", 1)
	require.NoError(t, err)

	got := l.ListBySession("s1")
	got[0].Ordinal = 99
	assert.Equal(t, 0, l.ListBySession("s1")[0].Ordinal)
}

func TestParseOrdinal(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"0", 0, true},
		{"42", 42, true},
		{"007", 7, true},
		{"", 0, false},
		{"-1", 0, false},
		{"+1", 0, false},
		{"1.5", 0, false},
		{"abc", 0, false},
		{"99999999999999999999999", 0, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			got, err := ParseOrdinal(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
