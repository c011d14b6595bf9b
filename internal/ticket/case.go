package ticket

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/atende-io/atende/pkg/protocol"
)

// Notifier pushes a case event to the currently connected watchers among
// the given user IDs. Implementations must not block: delivery to a slow
// or dead watcher is best-effort and must never delay the mutation that
// triggered it. Broadcast is invoked with the case lock held, which is
// what guarantees watchers see events in application order.
type Notifier interface {
	Broadcast(watchers []int64, ev protocol.CaseEvent)
}

// UserResolver resolves a user ID into its wire reference for event
// payloads and snapshots. Unknown IDs are simply left unresolved.
type UserResolver interface {
	LookupUser(id int64) (protocol.UserRef, bool)
}

// Author describes who is writing a message. UserID is meaningful only
// for opener and agent authors; the bot has no identity.
type Author struct {
	Kind   protocol.AuthorKind
	UserID int64
}

// Case is a support ticket. All mutations — flag transitions, stream
// append/replace, watcher registration — are serialized by the case
// mutex. Once closed, a case is immutable forever.
type Case struct {
	mu sync.Mutex

	id          string
	displaySeq  int
	title       string
	description string
	openerID    int64
	openedAt    time.Time
	closedAt    *time.Time

	botEverStarted bool
	botActive      bool
	botThinking    bool
	agentActive    bool
	closed         bool

	stream   []*Message
	watchers []int64

	notifier  Notifier
	users     UserResolver
	closeHook func(*Case)
	logger    *slog.Logger
}

func (c *Case) ID() string          { return c.id }
func (c *Case) DisplaySeq() int     { return c.displaySeq }
func (c *Case) Title() string       { return c.title }
func (c *Case) Description() string { return c.description }
func (c *Case) OpenerID() int64     { return c.openerID }

// Closed reports whether the case has been closed.
func (c *Case) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// AddWatcher registers a user to receive pushes for this case. Re-adding
// an existing watcher is a no-op. Closed cases still accept watchers so
// clients can read the final state.
func (c *Case) AddWatcher(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.watchers {
		if id == userID {
			return
		}
	}
	c.watchers = append(c.watchers, userID)
	c.logger.Info("watcher added", "case", c.id, "user", userID)
}

// AppendMessage reserves the next sequence number, pushes a message onto
// the stream, and, when initialText is non-empty, performs a full-text
// set (broadcast as a replace). Sequence reservation and push happen
// atomically under the case lock, so concurrent senders can never
// duplicate or skip a number.
func (c *Case) AppendMessage(author Author, initialText string) (*Message, error) {
	if !author.Kind.Valid() {
		return nil, protocol.Rejectf(protocol.CodeInvalidInput, "unknown author kind %q", author.Kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, protocol.Reject(protocol.CodeInvalidState, "case is closed")
	}

	m := &Message{
		c:          c,
		seq:        len(c.stream) + 1,
		author:     author.Kind,
		userID:     author.UserID,
		receivedAt: time.Now(),
	}
	c.stream = append(c.stream, m)
	c.logger.Info("message added", "case", c.id, "seq", m.seq, "author", author.Kind)

	if initialText != "" {
		m.text = initialText
		c.broadcastMessageLocked(m, protocol.EventMessageReplaced, "")
	}
	return m, nil
}

// Close terminates the case: sets the closure timestamp, clears every
// actor flag, notifies all watchers once with case-closed, and fires the
// reindex hook. Closing an already-closed case is rejected.
func (c *Case) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.Reject(protocol.CodeInvalidState, "case is already closed")
	}

	now := time.Now()
	c.closed = true
	c.closedAt = &now
	c.agentActive = false
	c.botActive = false
	c.botThinking = false

	c.notifier.Broadcast(c.watcherSnapshotLocked(), protocol.CaseEvent{
		CaseID: c.id,
		Kind:   protocol.EventCaseClosed,
	})
	hook := c.closeHook
	c.mu.Unlock()

	c.logger.Info("case closed", "case", c.id)
	if hook != nil {
		hook(c)
	}
	return nil
}

// StartBotTurn is the single-flight gate for the bot's first response.
// It fails once the bot has ever started, or while a turn is in flight.
func (c *Case) StartBotTurn() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return protocol.Reject(protocol.CodeInvalidState, "case is closed")
	}
	if c.botEverStarted {
		return protocol.Reject(protocol.CodeInvalidState, "the bot already started on this case")
	}
	if c.botThinking {
		return protocol.Reject(protocol.CodeInvalidState, "the bot is already thinking")
	}
	c.botThinking = true
	c.botActive = true
	return nil
}

// ContinueBotTurn gates a follow-up bot response: the bot must have
// completed its first turn, must not be mid-turn, and must still be the
// active actor (an agent hand-off permanently displaces it).
func (c *Case) ContinueBotTurn() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return protocol.Reject(protocol.CodeInvalidState, "case is closed")
	}
	if !c.botEverStarted {
		return protocol.Reject(protocol.CodeInvalidState, "the bot never started on this case")
	}
	if c.botThinking {
		return protocol.Reject(protocol.CodeInvalidState, "the bot is already thinking")
	}
	if !c.botActive {
		return protocol.Reject(protocol.CodeInvalidState, "the case was transferred to a human agent")
	}
	c.botThinking = true
	return nil
}

// FinishBotTurn marks a successful turn: clears thinking and, for the
// initial turn, records that the bot has started. A case closed mid-turn
// already cleared its flags; the late completion is a no-op then.
func (c *Case) FinishBotTurn(initial bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.botThinking = false
	if initial {
		c.botEverStarted = true
	}
}

// AbortBotTurn clears the thinking flag after a timeout or upstream
// failure without recording a completed turn.
func (c *Case) AbortBotTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.botThinking = false
	}
}

// AssignAgent hands the case to a human agent. The bot is permanently
// displaced; transferring back is unsupported.
func (c *Case) AssignAgent() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return protocol.Reject(protocol.CodeInvalidState, "case is closed")
	}
	if c.agentActive {
		return protocol.Reject(protocol.CodeInvalidState, "an agent is already active on this case")
	}
	c.agentActive = true
	c.botActive = false
	return nil
}

// Snapshot returns the full case state with author identities resolved.
func (c *Case) Snapshot() protocol.CaseSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := protocol.CaseSnapshot{
		ID:          c.id,
		DisplaySeq:  c.displaySeq,
		Title:       c.title,
		Description: c.description,
		State:       c.stateLocked(),
	}
	if ref, ok := c.users.LookupUser(c.openerID); ok {
		snap.Opener = ref
	}
	snap.Messages = make([]protocol.MessageView, 0, len(c.stream))
	for _, m := range c.stream {
		snap.Messages = append(snap.Messages, m.viewLocked())
	}
	return snap
}

// Summary returns the listing form of the case (no message stream).
func (c *Case) Summary() protocol.CaseSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	sum := protocol.CaseSummary{
		ID:          c.id,
		DisplaySeq:  c.displaySeq,
		Title:       c.title,
		Description: c.description,
		State:       c.stateLocked(),
	}
	if ref, ok := c.users.LookupUser(c.openerID); ok {
		sum.Opener = ref
	}
	return sum
}

// ConversationContext returns the author-labeled transcript of every
// message except the newest, plus the newest message's text. The bot
// controller feeds both to the generation service on a continue turn.
func (c *Case) ConversationContext() (history, latest string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.stream) == 0 {
		return "", ""
	}
	var b strings.Builder
	for _, m := range c.stream[:len(c.stream)-1] {
		b.WriteString(m.author.Label())
		b.WriteString(": ")
		b.WriteString(strings.ReplaceAll(m.text, "\n", " "))
		b.WriteString("\n")
	}
	return b.String(), c.stream[len(c.stream)-1].text
}

// Transcript renders the whole case as plain text for the knowledge
// index: title, description, and the labeled conversation history.
func (c *Case) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.WriteString("Titulo: ")
	b.WriteString(c.title)
	b.WriteString("\nDescrição: ")
	b.WriteString(c.description)
	b.WriteString("\nHistorico de Conversa:\n")
	for _, m := range c.stream {
		b.WriteString(m.author.Label())
		b.WriteString(": ")
		b.WriteString(m.text)
		b.WriteString("\n")
	}
	return b.String()
}

// --- locked helpers ---

func (c *Case) stateLocked() protocol.CaseState {
	return protocol.CaseState{
		Open:           !c.closed,
		Closed:         c.closed,
		BotEverStarted: c.botEverStarted,
		BotActive:      c.botActive,
		BotThinking:    c.botThinking,
		AgentActive:    c.agentActive,
		OpenedAt:       c.openedAt,
		ClosedAt:       c.closedAt,
	}
}

func (c *Case) watcherSnapshotLocked() []int64 {
	out := make([]int64, len(c.watchers))
	copy(out, c.watchers)
	return out
}

// broadcastMessageLocked builds the delta for a message's current state
// and hands it to the notifier. textAdded is set only for appends.
func (c *Case) broadcastMessageLocked(m *Message, kind protocol.EventKind, textAdded string) {
	delta := &protocol.MessageDelta{
		Seq:       m.seq,
		Author:    m.author,
		Text:      m.text,
		TextAdded: textAdded,
	}
	if m.author.Human() {
		if ref, ok := c.users.LookupUser(m.userID); ok {
			if m.author == protocol.AuthorAgent {
				delta.Agent = &ref
			} else {
				delta.User = &ref
			}
		}
	}
	c.notifier.Broadcast(c.watcherSnapshotLocked(), protocol.CaseEvent{
		CaseID:  c.id,
		Kind:    kind,
		Message: delta,
	})
}
