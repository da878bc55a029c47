package session

import (
	"sort"
	"strings"
	"time"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/service/stt"
)

// Discard reasons reported by the merge.
const (
	DiscardStale     = "stale"
	DiscardDuplicate = "duplicate"
)

// Transcript merges out-of-order chunk results into an ordered transcript.
//
// It keeps a low-water mark: the next sequence expected. A final result for
// the mark is committed along with every held result that follows it
// contiguously. Results ahead of the mark are held, results behind it are
// discarded. Not safe for concurrent use.
type Transcript struct {
	next     uint64
	segments []models.Segment
	text     strings.Builder
	held     map[uint64]stt.Result
	partials map[uint64]models.PartialSegment

	degraded   bool
	errorCount int
}

// NewTranscript returns an empty transcript expecting sequence 0.
func NewTranscript() *Transcript {
	return &Transcript{
		held:     make(map[uint64]stt.Result),
		partials: make(map[uint64]models.PartialSegment),
	}
}

// MergeOutcome describes what ApplyFinal did with a result.
type MergeOutcome struct {
	Committed []models.Segment
	Held      bool
	Discarded string
}

// ApplyFinal merges a final result.
func (t *Transcript) ApplyFinal(r stt.Result) MergeOutcome {
	switch {
	case r.Sequence < t.next:
		return MergeOutcome{Discarded: DiscardStale}
	case r.Sequence > t.next:
		if _, dup := t.held[r.Sequence]; dup {
			return MergeOutcome{Discarded: DiscardDuplicate}
		}
		t.held[r.Sequence] = r
		delete(t.partials, r.Sequence)
		return MergeOutcome{Held: true}
	}

	out := MergeOutcome{Committed: []models.Segment{t.commit(r)}}
	for {
		held, ok := t.held[t.next]
		if !ok {
			break
		}
		delete(t.held, t.next)
		out.Committed = append(out.Committed, t.commit(held))
	}
	return out
}

func (t *Transcript) commit(r stt.Result) models.Segment {
	seg := models.Segment{
		Sequence:     r.Sequence,
		Text:         strings.TrimSpace(r.Text),
		Confidence:   r.Confidence,
		LanguageCode: r.LanguageCode,
	}
	if r.Err != nil {
		seg.Text = ""
		seg.Confidence = 0
		seg.Failed = true
		t.degraded = true
		t.errorCount++
	}

	t.segments = append(t.segments, seg)
	if seg.Text != "" {
		if t.text.Len() > 0 {
			t.text.WriteByte(' ')
		}
		t.text.WriteString(seg.Text)
	}
	delete(t.partials, r.Sequence)
	t.next = r.Sequence + 1
	return seg
}

// ApplyPartial replaces the provisional text for a sequence. It returns
// false when the sequence is already committed or its final is held.
func (t *Transcript) ApplyPartial(r stt.Result, now time.Time) (models.PartialSegment, bool) {
	if r.Sequence < t.next {
		return models.PartialSegment{}, false
	}
	if _, ok := t.held[r.Sequence]; ok {
		return models.PartialSegment{}, false
	}

	p := models.PartialSegment{
		Sequence:  r.Sequence,
		Text:      strings.TrimSpace(r.Text),
		Revision:  t.partials[r.Sequence].Revision + 1,
		UpdatedAt: now,
	}
	t.partials[r.Sequence] = p
	return p, true
}

// Text is the canonical transcript: non-empty segment texts joined with a
// single space.
func (t *Transcript) Text() string {
	return t.text.String()
}

// Next returns the low-water mark.
func (t *Transcript) Next() uint64 {
	return t.next
}

// Held returns the number of results waiting for an earlier sequence.
func (t *Transcript) Held() int {
	return len(t.held)
}

// Degraded reports whether any chunk failed.
func (t *Transcript) Degraded() bool {
	return t.degraded
}

// ErrorCount returns the number of failed chunks committed.
func (t *Transcript) ErrorCount() int {
	return t.errorCount
}

// Segments returns a copy of the committed segments in order.
func (t *Transcript) Segments() []models.Segment {
	out := make([]models.Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Partials returns the current partials ordered by sequence.
func (t *Transcript) Partials() []models.PartialSegment {
	out := make([]models.PartialSegment, 0, len(t.partials))
	for _, p := range t.partials {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}
