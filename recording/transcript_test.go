package recording

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptService_SegmentsFollowOrdinals(t *testing.T) {
	l := NewChunkLedger()
	for _, n := range []int{2, 0, 2, 1} {
		_, err := l.Register("s1", n, "ref", 1)
		require.NoError(t, err)
	}
	svc := NewTranscriptService(l, 5*time.Second, time.Minute)

	tr, fresh := svc.Get("s1")
	assert.True(t, fresh)
	require.Len(t, tr.Segments, 3)
	assert.Equal(t, 0, tr.Segments[0].Ordinal)
	assert.Equal(t, 2, tr.Segments[2].Ordinal)
	assert.Equal(t, 10*time.Second, tr.Segments[2].Start)
	assert.Equal(t, 15*time.Second, tr.Segments[2].End)

	_, fresh = svc.Get("s1")
	assert.False(t, fresh)

	svc.Invalidate("s1")
	_, fresh = svc.Get("s1")
	assert.True(t, fresh)
}

func TestExport_SRTAndWebVTT(t *testing.T) {
	tr := Transcript{
		SessionID: "s1",
		Segments: []Segment{
			{Ordinal: 0, Start: 0, End: 5 * time.Second, Text: "hello"},
			{Ordinal: 1, Start: 5 * time.Second, End: 10 * time.Second, Text: "world"},
		},
	}

	var srt bytes.Buffer
	require.NoError(t, Export(tr, FormatSRT, &srt))
	assert.Contains(t, srt.String(), "00:00:05,000 --> 00:00:10,000")
	assert.Contains(t, srt.String(), "world")

	var vtt bytes.Buffer
	require.NoError(t, Export(tr, FormatWebVTT, &vtt))
	assert.Contains(t, vtt.String(), "WEBVTT")
	assert.Contains(t, vtt.String(), "hello")
}

func TestExport_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Export(Transcript{SessionID: "s1"}, FormatSRT, &buf), ErrNotFound)
	assert.ErrorIs(t, Export(Transcript{SessionID: "s1"}, "docx", &buf), ErrValidation)
}
