package protocol

import "fmt"

// AuthorKind identifies who wrote a message in a case. The set is closed:
// the opener of the case, the automated assistant, or a human agent.
type AuthorKind string

const (
	AuthorOpener AuthorKind = "opener"
	AuthorBot    AuthorKind = "bot"
	AuthorAgent  AuthorKind = "agent"
)

// Valid reports whether k is one of the three known author kinds.
func (k AuthorKind) Valid() bool {
	switch k {
	case AuthorOpener, AuthorBot, AuthorAgent:
		return true
	}
	return false
}

// Human reports whether the author is a person (opener or agent).
func (k AuthorKind) Human() bool {
	return k == AuthorOpener || k == AuthorAgent
}

// Label returns the transcript label used when the conversation is
// rendered as context for the generation service.
func (k AuthorKind) Label() string {
	switch k {
	case AuthorBot:
		return "Assistente"
	case AuthorOpener:
		return "Usuario"
	case AuthorAgent:
		return "Atendente"
	}
	return string(k)
}

// UserRef is a resolved user identity embedded in events and snapshots.
type UserRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func (u UserRef) String() string {
	return fmt.Sprintf("%s (#%d)", u.Name, u.ID)
}
