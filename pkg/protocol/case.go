package protocol

import "time"

// CaseState is the flag block of a case as exposed to clients.
type CaseState struct {
	Open           bool       `json:"open"`
	Closed         bool       `json:"closed"`
	BotEverStarted bool       `json:"bot_ever_started"`
	BotActive      bool       `json:"bot_active"`
	BotThinking    bool       `json:"bot_thinking"`
	AgentActive    bool       `json:"agent_active"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// MessageView is one message of the stream with its author resolved.
type MessageView struct {
	Seq        int        `json:"seq"`
	Author     AuthorKind `json:"author"`
	Text       string     `json:"text"`
	ReceivedAt time.Time  `json:"received_at"`
	User       *UserRef   `json:"user,omitempty"`
	Agent      *UserRef   `json:"agent,omitempty"`
}

// CaseSnapshot is the full state of a case returned by read-state.
type CaseSnapshot struct {
	ID          string        `json:"id"`
	DisplaySeq  int           `json:"display_seq"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Opener      UserRef       `json:"opener"`
	Messages    []MessageView `json:"messages"`
	State       CaseState     `json:"state"`
}

// CaseSummary is the listing form of a case (no message stream).
type CaseSummary struct {
	ID          string    `json:"id"`
	DisplaySeq  int       `json:"display_seq"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Opener      UserRef   `json:"opener"`
	State       CaseState `json:"state"`
}
