package ticket

import (
	"time"

	"github.com/atende-io/atende/pkg/protocol"
)

// Message is one turn of a case's conversation. It is owned exclusively
// by its case and mutated only under the case lock. The text grows via
// AppendText during incremental streaming and is finalized (or set in
// one shot) via SetText.
type Message struct {
	c          *Case
	seq        int
	author     protocol.AuthorKind
	userID     int64
	receivedAt time.Time
	text       string
}

func (m *Message) Seq() int                    { return m.seq }
func (m *Message) AuthorKind() protocol.AuthorKind { return m.author }
func (m *Message) ReceivedAt() time.Time       { return m.receivedAt }

// Text returns the current full text.
func (m *Message) Text() string {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	return m.text
}

// SetText replaces the text entirely and broadcasts the replacement.
// Rejected once the case is closed, so a generation completing late
// against a closed case lands harmlessly.
func (m *Message) SetText(text string) error {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()

	if m.c.closed {
		return protocol.Reject(protocol.CodeInvalidState, "case is closed")
	}
	m.text = text
	m.c.broadcastMessageLocked(m, protocol.EventMessageReplaced, "")
	return nil
}

// AppendText concatenates a suffix and broadcasts an append event that
// carries both the added chunk and the full text so far.
func (m *Message) AppendText(suffix string) error {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()

	if m.c.closed {
		return protocol.Reject(protocol.CodeInvalidState, "case is closed")
	}
	m.text += suffix
	m.c.broadcastMessageLocked(m, protocol.EventMessageAppended, suffix)
	return nil
}

// viewLocked builds the resolved wire view. Caller holds the case lock.
func (m *Message) viewLocked() protocol.MessageView {
	v := protocol.MessageView{
		Seq:        m.seq,
		Author:     m.author,
		Text:       m.text,
		ReceivedAt: m.receivedAt,
	}
	if m.author.Human() {
		if ref, ok := m.c.users.LookupUser(m.userID); ok {
			if m.author == protocol.AuthorAgent {
				v.Agent = &ref
			} else {
				v.User = &ref
			}
		}
	}
	return v
}
