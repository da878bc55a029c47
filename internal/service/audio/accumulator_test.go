package audio

import (
	"sync"
	"testing"
	"time"
)

func pcmMs(ms int) []byte {
	return make([]byte, ms*BytesPerMs)
}

func TestAccumulator_Push(t *testing.T) {
	acc := NewAccumulator(100 * time.Millisecond)

	for i := 0; i < 4; i++ {
		if c := acc.Push("call-1", pcmMs(20)); c != nil {
			t.Fatalf("push %d: unexpected chunk before window", i)
		}
	}

	c := acc.Push("call-1", pcmMs(20))
	if c == nil {
		t.Fatal("expected chunk once window reached")
	}
	if c.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", c.Sequence)
	}
	if c.DurationMs != 100 {
		t.Errorf("expected 100ms chunk, got %d", c.DurationMs)
	}
	if acc.Buffered("call-1") != 0 {
		t.Errorf("expected empty buffer after cut, got %d", acc.Buffered("call-1"))
	}
}

func TestAccumulator_ChunkHoldsEverythingBuffered(t *testing.T) {
	acc := NewAccumulator(100 * time.Millisecond)
	acc.Push("call-1", pcmMs(80))
	c := acc.Push("call-1", pcmMs(60))
	if c == nil {
		t.Fatal("expected chunk")
	}
	if c.DurationMs != 140 {
		t.Errorf("expected 140ms chunk, got %d", c.DurationMs)
	}
}

func TestAccumulator_SequenceIncrements(t *testing.T) {
	acc := NewAccumulator(20 * time.Millisecond)
	for want := uint64(0); want < 5; want++ {
		c := acc.Push("call-1", pcmMs(20))
		if c == nil || c.Sequence != want {
			t.Fatalf("expected chunk with sequence %d, got %+v", want, c)
		}
	}
}

func TestAccumulator_Flush(t *testing.T) {
	acc := NewAccumulator(time.Second)

	if c := acc.Flush("call-1"); c != nil {
		t.Errorf("expected nil flush for unknown call, got %+v", c)
	}

	acc.Push("call-1", pcmMs(40))
	c := acc.Flush("call-1")
	if c == nil || c.DurationMs != 40 {
		t.Fatalf("expected 40ms flush, got %+v", c)
	}
	if c := acc.Flush("call-1"); c != nil {
		t.Errorf("expected nil flush once drained, got %+v", c)
	}

	acc.Push("call-1", pcmMs(20))
	if c := acc.Flush("call-1"); c == nil || c.Sequence != 1 {
		t.Errorf("expected second flush to carry sequence 1, got %+v", c)
	}
}

func TestAccumulator_Reset(t *testing.T) {
	acc := NewAccumulator(20 * time.Millisecond)
	acc.Push("call-1", pcmMs(20))
	acc.Push("call-1", pcmMs(10))

	acc.Reset("call-1")
	if acc.Buffered("call-1") != 0 {
		t.Errorf("expected no buffered audio after reset")
	}
	c := acc.Push("call-1", pcmMs(20))
	if c == nil || c.Sequence != 0 {
		t.Errorf("expected sequence to restart at 0, got %+v", c)
	}
}

func TestAccumulator_IndependentCalls(t *testing.T) {
	acc := NewAccumulator(100 * time.Millisecond)

	var wg sync.WaitGroup
	counts := make([]int, 8)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			callID := string(rune('a' + i))
			for j := 0; j < 50; j++ {
				if c := acc.Push(callID, pcmMs(20)); c != nil {
					if c.CallID != callID {
						t.Errorf("chunk for %s carried call %s", callID, c.CallID)
					}
					counts[i]++
				}
			}
		}(i)
	}
	wg.Wait()

	for i, n := range counts {
		if n != 10 {
			t.Errorf("call %d: expected 10 chunks, got %d", i, n)
		}
	}
}
