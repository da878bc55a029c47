package audio

import (
	"sync"
	"time"
)

// DefaultChunkWindow is the amount of audio buffered before a chunk is cut.
const DefaultChunkWindow = 5 * time.Second

// Chunk is a window of PCM16 LE audio for one call. Sequence starts at 0 and
// increases by one per emitted chunk.
type Chunk struct {
	CallID     string
	Sequence   uint64
	PCM        []byte
	DurationMs int64
}

type callBuffer struct {
	pcm  []byte
	next uint64
}

// Accumulator buffers decoded audio per call and cuts it into chunks of at
// least the configured window.
//
// The call registry is safe for concurrent use. Operations on one call are
// not: the caller must serialize Push, Flush and Reset for a given callID.
type Accumulator struct {
	windowBytes int

	mu      sync.Mutex
	buffers map[string]*callBuffer
}

// NewAccumulator returns an Accumulator cutting chunks every window of audio.
func NewAccumulator(window time.Duration) *Accumulator {
	if window <= 0 {
		window = DefaultChunkWindow
	}
	return &Accumulator{
		windowBytes: int(window.Milliseconds()) * BytesPerMs,
		buffers:     make(map[string]*callBuffer),
	}
}

func (a *Accumulator) buffer(callID string) *callBuffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buffers[callID]
	if !ok {
		b = &callBuffer{pcm: make([]byte, 0, a.windowBytes)}
		a.buffers[callID] = b
	}
	return b
}

// Push appends pcm to the call's buffer. It returns a chunk holding all
// buffered audio once the window is reached, nil otherwise.
func (a *Accumulator) Push(callID string, pcm []byte) *Chunk {
	b := a.buffer(callID)
	b.pcm = append(b.pcm, pcm...)
	if len(b.pcm) < a.windowBytes {
		return nil
	}
	return a.cut(callID, b)
}

// Flush returns whatever is buffered for the call, nil when nothing is.
func (a *Accumulator) Flush(callID string) *Chunk {
	a.mu.Lock()
	b, ok := a.buffers[callID]
	a.mu.Unlock()
	if !ok || len(b.pcm) == 0 {
		return nil
	}
	return a.cut(callID, b)
}

// Reset drops the call's buffered audio and its sequence counter.
func (a *Accumulator) Reset(callID string) {
	a.mu.Lock()
	delete(a.buffers, callID)
	a.mu.Unlock()
}

// Buffered returns the number of PCM bytes waiting for the next chunk.
func (a *Accumulator) Buffered(callID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.buffers[callID]; ok {
		return len(b.pcm)
	}
	return 0
}

func (a *Accumulator) cut(callID string, b *callBuffer) *Chunk {
	c := &Chunk{
		CallID:     callID,
		Sequence:   b.next,
		PCM:        b.pcm,
		DurationMs: DurationMs(b.pcm),
	}
	b.next++
	b.pcm = make([]byte, 0, a.windowBytes)
	return c
}
