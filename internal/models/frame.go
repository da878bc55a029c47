package models

// Frame is one inbound telephony audio frame.
type Frame struct {
	CallID       string `json:"callId" validate:"required,max=128,callid"`
	Payload      string `json:"payload" validate:"required"`
	SequenceHint uint64 `json:"sequenceHint"`
	IsFinalFrame bool   `json:"isFinalFrame"`
}

// StartRequest is the explicit start control signal.
type StartRequest struct {
	CallID   string            `json:"callId" validate:"required,max=128,callid"`
	Metadata map[string]string `json:"metadata" validate:"omitempty,max=64,dive,keys,max=64,endkeys,max=1024"`
}

// AbortRequest is the explicit abort control signal.
type AbortRequest struct {
	CallID string `json:"callId" validate:"required,max=128,callid"`
	Reason string `json:"reason" validate:"max=256"`
}
