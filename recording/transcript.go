package recording

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/asticode/go-astisub"
	"github.com/jellydator/ttlcache/v3"
	"github.com/samber/lo"

	"github.com/ghyeongl/scribe-relay/logging"
)

// Segment is one timed span of a transcript, aligned to a chunk.
type Segment struct {
	Ordinal int           `json:"chunkNumber"`
	Start   time.Duration `json:"start"`
	End     time.Duration `json:"end"`
	Text    string        `json:"text"`
}

// Transcript is a generated (mock) transcription of a session.
type Transcript struct {
	SessionID   string    `json:"sessionId"`
	Text        string    `json:"transcription"`
	Segments    []Segment `json:"segments"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Subtitle formats accepted by TranscriptService.Export.
const (
	FormatSRT    = "srt"
	FormatWebVTT = "vtt"
)

// TranscriptService produces mock transcripts and caches them per session.
type TranscriptService struct {
	ledger        *ChunkLedger
	chunkDuration time.Duration
	cache         *ttlcache.Cache[string, Transcript]
}

// NewTranscriptService creates a service whose transcripts live for ttl.
// Each chunk is assumed to cover chunkDuration of audio.
func NewTranscriptService(ledger *ChunkLedger, chunkDuration, ttl time.Duration) *TranscriptService {
	if chunkDuration <= 0 {
		chunkDuration = 5 * time.Second
	}
	cache := ttlcache.New[string, Transcript](
		ttlcache.WithTTL[string, Transcript](ttl),
		ttlcache.WithDisableTouchOnHit[string, Transcript](),
	)
	return &TranscriptService{ledger: ledger, chunkDuration: chunkDuration, cache: cache}
}

// Start runs the cache expiry loop and blocks until Stop is called.
func (t *TranscriptService) Start() { t.cache.Start() }

// Stop ends the expiry loop.
func (t *TranscriptService) Stop() { t.cache.Stop() }

// Get returns the transcript for a session. fresh is true when it was
// generated by this call rather than served from cache.
func (t *TranscriptService) Get(sessionID string) (tr Transcript, fresh bool) {
	if item := t.cache.Get(sessionID); item != nil {
		return item.Value(), false
	}
	tr = t.generate(sessionID)
	t.cache.Set(sessionID, tr, ttlcache.DefaultTTL)
	logging.Sub("transcript").Debug("generated", "session", sessionID, "segments", len(tr.Segments))
	return tr, true
}

// Invalidate drops the cached transcript of a session.
func (t *TranscriptService) Invalidate(sessionID string) {
	t.cache.Delete(sessionID)
}

func (t *TranscriptService) generate(sessionID string) Transcript {
	chunks := lo.UniqBy(t.ledger.ListBySession(sessionID), func(c Chunk) int { return c.Ordinal })
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Ordinal < chunks[j].Ordinal })

	segs := make([]Segment, 0, len(chunks))
	for _, c := range chunks {
		start := time.Duration(c.Ordinal) * t.chunkDuration
		segs = append(segs, Segment{
			Ordinal: c.Ordinal,
			Start:   start,
			End:     start + t.chunkDuration,
			Text:    fmt.Sprintf("[chunk %d] mock transcription segment.", c.Ordinal),
		})
	}

	return Transcript{
		SessionID: sessionID,
		Text: fmt.Sprintf("This is a mock transcription for session %s. "+
			"In a real implementation, this would be generated by a speech-to-text service.", sessionID),
		Segments:    segs,
		GeneratedAt: nowFunc().UTC(),
	}
}

// Export writes the transcript segments as SRT or WebVTT subtitles.
func Export(tr Transcript, format string, w io.Writer) error {
	if format != FormatSRT && format != FormatWebVTT {
		return &ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported subtitle format %q", format)}
	}
	if len(tr.Segments) == 0 {
		return &NotFoundError{Kind: "transcript segments", ID: tr.SessionID}
	}
	subs := astisub.NewSubtitles()
	for _, s := range tr.Segments {
		subs.Items = append(subs.Items, &astisub.Item{
			StartAt: s.Start,
			EndAt:   s.End,
			Lines:   []astisub.Line{{Items: []astisub.LineItem{{Text: s.Text}}}},
		})
	}
	if format == FormatSRT {
		return subs.WriteToSRT(w)
	}
	return subs.WriteToWebVTT(w)
}
