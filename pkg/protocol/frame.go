package protocol

import "encoding/json"

// Frame is one command on the real-time channel. Clients send frames
// with an ID they choose; the matching Response carries the same ID.
// Server-initiated pushes reuse the Frame shape with Command set to
// CommandCaseUpdated and no ID.
type Frame struct {
	ID      uint64          `json:"id,omitempty"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers a client frame. Exactly one of Error or Data is set
// on a rejection; Data is optional on success.
type Response struct {
	ID    uint64          `json:"id,omitempty"`
	OK    bool            `json:"ok"`
	Error *Rejection      `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}
