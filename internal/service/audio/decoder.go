// Package audio turns telephony media frames into PCM chunks ready for
// transcription.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultFrameBytes is one 20 ms G.711 frame at 8 kHz, the Twilio frame size.
const DefaultFrameBytes = 160

const (
	// SampleRateHz is the sample rate of telephony audio.
	SampleRateHz = 8000
	// BytesPerMs is the PCM16 mono byte rate at SampleRateHz.
	BytesPerMs = SampleRateHz * 2 / 1000

	mulawBias = 0x84
	mulawClip = 32635
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrBadBase64    = errors.New("payload is not valid base64")
	ErrFrameSize    = errors.New("payload length is not a multiple of the frame size")
)

// DecodeError reports a frame that could not be decoded. It wraps one of
// ErrEmptyPayload, ErrBadBase64 or ErrFrameSize.
type DecodeError struct {
	Length int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", e.Length, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var mulawTable [256]int16

func init() {
	for i := range mulawTable {
		mulawTable[i] = expandMulaw(byte(i))
	}
}

// expandMulaw is the ITU-T G.711 mu-law expansion.
func expandMulaw(u byte) int16 {
	u = ^u
	t := (int32(u&0x0F) << 3) + mulawBias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(mulawBias - t)
	}
	return int16(t - mulawBias)
}

// Decoder converts base64 mu-law payloads into little-endian PCM16.
// It holds no state and is safe for concurrent use.
type Decoder struct {
	frameBytes int
}

// NewDecoder returns a Decoder validating against frameBytes.
// A non-positive value selects DefaultFrameBytes.
func NewDecoder(frameBytes int) *Decoder {
	if frameBytes <= 0 {
		frameBytes = DefaultFrameBytes
	}
	return &Decoder{frameBytes: frameBytes}
}

// FrameBytes returns the mu-law frame size the decoder enforces.
func (d *Decoder) FrameBytes() int {
	return d.frameBytes
}

// Decode returns PCM16 LE samples for a base64 mu-law payload. The output is
// exactly twice the decoded payload length.
func (d *Decoder) Decode(payload string) ([]byte, error) {
	if payload == "" {
		return nil, &DecodeError{Err: ErrEmptyPayload}
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Length: len(payload), Err: fmt.Errorf("%w: %v", ErrBadBase64, err)}
	}
	if len(raw) == 0 {
		return nil, &DecodeError{Err: ErrEmptyPayload}
	}
	if len(raw)%d.frameBytes != 0 {
		return nil, &DecodeError{Length: len(raw), Err: ErrFrameSize}
	}
	return MulawToPCM(raw), nil
}

// MulawToPCM expands mu-law bytes into PCM16 LE.
func MulawToPCM(ulaw []byte) []byte {
	pcm := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(mulawTable[b]))
	}
	return pcm
}

// EncodeMulaw compresses PCM16 LE into mu-law. A trailing odd byte is ignored.
func EncodeMulaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = compressMulaw(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

func compressMulaw(sample int16) byte {
	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// DurationMs returns the playback length of PCM16 LE audio at SampleRateHz.
func DurationMs(pcm []byte) int64 {
	return int64(len(pcm) / BytesPerMs)
}
