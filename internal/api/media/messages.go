// Package media accepts Twilio Media Streams over WebSocket and feeds the
// inbound audio into the session manager.
package media

// Message is one Twilio Media Streams message. Only the block matching Event
// is populated.
type Message struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *StartMessage `json:"start,omitempty"`
	Media          *MediaMessage `json:"media,omitempty"`
	Stop           *StopMessage  `json:"stop,omitempty"`
	Mark           *MarkMessage  `json:"mark,omitempty"`
	DTMF           *DTMFMessage  `json:"dtmf,omitempty"`
}

const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
)

// StartMessage describes the stream. CallSid is used as the callId.
type StartMessage struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid" validate:"required,max=128,callid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters" validate:"omitempty,max=64,dive,keys,max=64,endkeys,max=1024"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// MediaFormat is the encoding of media payloads. Only 8 kHz mono μ-law is
// accepted.
type MediaFormat struct {
	Encoding   string `json:"encoding" validate:"required,eq=audio/x-mulaw"`
	SampleRate int    `json:"sampleRate" validate:"required,eq=8000"`
	Channels   int    `json:"channels" validate:"required,eq=1"`
}

// MediaMessage carries one base64 μ-law frame.
type MediaMessage struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type StopMessage struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type MarkMessage struct {
	Name string `json:"name"`
}

type DTMFMessage struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}
