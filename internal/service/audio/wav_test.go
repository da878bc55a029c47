package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWAV_RoundTrip(t *testing.T) {
	pcm := make([]byte, 0, 400)
	for i := 0; i < 200; i++ {
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(int16(i*100-10000)))
	}

	wavBytes, err := EncodeWAV(pcm, SampleRateHz)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if string(wavBytes[:4]) != "RIFF" || string(wavBytes[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", wavBytes[:12])
	}

	got, rate, err := DecodeWAV(bytes.NewReader(wavBytes))
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if rate != SampleRateHz {
		t.Errorf("expected rate %d, got %d", SampleRateHz, rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(pcm))
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	if _, _, err := DecodeWAV(bytes.NewReader([]byte("definitely not a wav"))); err == nil {
		t.Error("expected error for invalid wav")
	}
}
