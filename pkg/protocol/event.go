package protocol

// EventKind is the kind of state delta pushed to case watchers.
type EventKind string

const (
	EventMessageAppended EventKind = "message-appended"
	EventMessageReplaced EventKind = "message-replaced"
	EventCaseClosed      EventKind = "case-closed"
)

// CaseEvent is the payload of the server-initiated "case-updated" push.
// For message events, Message carries the delta; for case-closed it is nil.
type CaseEvent struct {
	CaseID  string        `json:"case_id"`
	Kind    EventKind     `json:"kind"`
	Message *MessageDelta `json:"message,omitempty"`
}

// MessageDelta describes the current state of one message after an append
// or replace. An append carries both the suffix that was added and the
// full text so far, so a watcher can render incrementally or wholesale.
// A replace carries only the full text.
type MessageDelta struct {
	Seq       int        `json:"seq"`
	Author    AuthorKind `json:"author"`
	User      *UserRef   `json:"user,omitempty"`
	Agent     *UserRef   `json:"agent,omitempty"`
	Text      string     `json:"text"`
	TextAdded string     `json:"text_added,omitempty"`
}
