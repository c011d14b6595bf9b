package ticket

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/atende-io/atende/pkg/protocol"
)

// recordingNotifier captures broadcasts in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []protocol.CaseEvent
}

func (n *recordingNotifier) Broadcast(_ []int64, ev protocol.CaseEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []protocol.CaseEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]protocol.CaseEvent, len(n.events))
	copy(out, n.events)
	return out
}

// staticResolver resolves IDs from a fixed map.
type staticResolver map[int64]protocol.UserRef

func (r staticResolver) LookupUser(id int64) (protocol.UserRef, bool) {
	ref, ok := r[id]
	return ref, ok
}

func newTestDirectory(t *testing.T) (*Directory, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	users := staticResolver{
		1: {ID: 1, Name: "Ana", Email: "ana@example.com"},
		2: {ID: 2, Name: "Bruno", Email: "bruno@example.com"},
	}
	return NewDirectory(n, users, nil), n
}

func TestOpenCase(t *testing.T) {
	d, _ := newTestDirectory(t)

	c, err := d.Open("Internet lenta", "A internet está muito lenta", 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if c.DisplaySeq() != 1 {
		t.Errorf("first case should get display seq 1, got %d", c.DisplaySeq())
	}
	snap := c.Snapshot()
	if len(snap.Messages) != 0 {
		t.Errorf("new case should have an empty stream, got %d messages", len(snap.Messages))
	}
	st := snap.State
	if st.Closed || st.BotActive || st.BotThinking || st.AgentActive || st.BotEverStarted {
		t.Errorf("new case should be unassigned, got %+v", st)
	}
	if snap.Opener.Name != "Ana" {
		t.Errorf("opener not resolved: %+v", snap.Opener)
	}
}

func TestOpenValidation(t *testing.T) {
	d, _ := newTestDirectory(t)

	for _, tc := range []struct {
		name, title, desc string
	}{
		{"empty title", "", "desc"},
		{"empty description", "title", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Open(tc.title, tc.desc, 1)
			if code := protocol.AsRejection(err).Code; code != protocol.CodeInvalidInput {
				t.Errorf("expected invalid-input, got %v", err)
			}
		})
	}
}

func TestDisplaySeqMonotonic(t *testing.T) {
	d, _ := newTestDirectory(t)

	for i := 1; i <= 5; i++ {
		c, err := d.Open(fmt.Sprintf("case %d", i), "desc", 1)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if c.DisplaySeq() != i {
			t.Errorf("case %d got display seq %d", i, c.DisplaySeq())
		}
	}
}

func TestMessageSequenceGapFreeUnderConcurrency(t *testing.T) {
	d, _ := newTestDirectory(t)
	c, _ := d.Open("title", "desc", 1)

	const senders = 32
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.AppendMessage(Author{Kind: protocol.AuthorOpener, UserID: 1}, "hello"); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if len(snap.Messages) != senders {
		t.Fatalf("expected %d messages, got %d", senders, len(snap.Messages))
	}
	seen := make(map[int]bool)
	for i, m := range snap.Messages {
		if m.Seq != i+1 {
			t.Errorf("message at index %d has seq %d", i, m.Seq)
		}
		if seen[m.Seq] {
			t.Errorf("duplicate seq %d", m.Seq)
		}
		seen[m.Seq] = true
	}
}

func TestAppendAndReplaceEvents(t *testing.T) {
	d, n := newTestDirectory(t)
	c, _ := d.Open("title", "desc", 1)
	c.AddWatcher(1)

	m, err := c.AppendMessage(Author{Kind: protocol.AuthorBot}, "")
	if err != nil {
		t.Fatalf("append message: %v", err)
	}
	if err := m.AppendText("Olá"); err != nil {
		t.Fatalf("append text: %v", err)
	}
	if err := m.AppendText(" tudo bem?"); err != nil {
		t.Fatalf("append text: %v", err)
	}
	if err := m.SetText("Olá, tudo bem?"); err != nil {
		t.Fatalf("set text: %v", err)
	}

	events := n.all()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != protocol.EventMessageAppended || events[0].Message.TextAdded != "Olá" {
		t.Errorf("first event wrong: %+v", events[0])
	}
	if events[1].Message.Text != "Olá tudo bem?" || events[1].Message.TextAdded != " tudo bem?" {
		t.Errorf("second append should carry full text so far: %+v", events[1].Message)
	}
	if events[2].Kind != protocol.EventMessageReplaced || events[2].Message.Text != "Olá, tudo bem?" {
		t.Errorf("final event should be a replace with the full text: %+v", events[2])
	}
	if m.Text() != "Olá, tudo bem?" {
		t.Errorf("final text %q", m.Text())
	}
}

func TestAgentAuthorResolvedInEvents(t *testing.T) {
	d, n := newTestDirectory(t)
	c, _ := d.Open("title", "desc", 1)
	c.AddWatcher(1)

	if _, err := c.AppendMessage(Author{Kind: protocol.AuthorAgent, UserID: 2}, "posso ajudar?"); err != nil {
		t.Fatalf("append: %v", err)
	}
	events := n.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	delta := events[0].Message
	if delta.Agent == nil || delta.Agent.Name != "Bruno" {
		t.Errorf("agent identity not resolved: %+v", delta)
	}
	if delta.User != nil {
		t.Errorf("user ref should be empty for an agent message: %+v", delta)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	d, n := newTestDirectory(t)
	c, _ := d.Open("title", "desc", 1)
	c.AddWatcher(1)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); protocol.AsRejection(err).Code != protocol.CodeInvalidState {
		t.Errorf("second close should be invalid-state, got %v", err)
	}

	// Every mutating operation is rejected and produces no side effects.
	if _, err := c.AppendMessage(Author{Kind: protocol.AuthorOpener, UserID: 1}, "hi"); protocol.AsRejection(err).Code != protocol.CodeInvalidState {
		t.Errorf("append on closed case: %v", err)
	}
	if err := c.StartBotTurn(); protocol.AsRejection(err).Code != protocol.CodeInvalidState {
		t.Errorf("start bot on closed case: %v", err)
	}
	if err := c.AssignAgent(); protocol.AsRejection(err).Code != protocol.CodeInvalidState {
		t.Errorf("assign agent on closed case: %v", err)
	}

	events := n.all()
	if len(events) != 1 || events[0].Kind != protocol.EventCaseClosed {
		t.Fatalf("expected exactly one case-closed event, got %+v", events)
	}
	st := c.Snapshot().State
	if !st.Closed || st.AgentActive || st.BotActive || st.BotThinking {
		t.Errorf("closed case flags wrong: %+v", st)
	}
	if st.ClosedAt == nil {
		t.Error("closure timestamp missing")
	}
}

func TestCloseFiresHook(t *testing.T) {
	d, _ := newTestDirectory(t)
	var hooked []*Case
	d.SetCloseHook(func(c *Case) { hooked = append(hooked, c) })

	c, _ := d.Open("title", "desc", 1)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(hooked) != 1 || hooked[0] != c {
		t.Errorf("close hook not fired for case")
	}
}

func TestBotSingleFlight(t *testing.T) {
	d, _ := newTestDirectory(t)
	c, _ := d.Open("title", "desc", 1)

	if err := c.StartBotTurn(); err != nil {
		t.Fatalf("first start: %v", err)
	}
	// Second call before the first resolves.
	if err := c.StartBotTurn(); protocol.AsRejection(err).Code != protocol.CodeInvalidState {
		t.Errorf("concurrent start should be invalid-state, got %v", err)
	}

	c.FinishBotTurn(true)
	st := c.Snapshot().State
	if !st.BotEverStarted || st.BotThinking {
		t.Errorf("after finish: %+v", st)
	}

	// After botEverStarted, start is rejected for good.
	if err := c.StartBotTurn(); protocol.AsRejection(err).Code != protocol.CodeInvalidState {
		t.Errorf("restart after completion should be invalid-state, got %v", err)
	}
}

func TestContinueBotGuards(t *testing.T) {
	d, _ := newTestDirectory(t)
	c, _ := d.Open("title", "desc", 1)

	// Never started.
	if err := c.ContinueBotTurn(); protocol.AsRejection(err).Code != protocol.CodeInvalidState {
		t.Errorf("continue before start: %v", err)
	}

	if err := c.StartBotTurn(); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.FinishBotTurn(true)

	if err := c.ContinueBotTurn(); err != nil {
		t.Fatalf("continue after start: %v", err)
	}
	c.FinishBotTurn(false)

	// Hand-off displaces the bot permanently.
	if err := c.AssignAgent(); err != nil {
		t.Fatalf("assign agent: %v", err)
	}
	if err := c.AssignAgent(); protocol.AsRejection(err).Code != protocol.CodeInvalidState {
		t.Errorf("double assign should be invalid-state, got %v", err)
	}
	err := c.ContinueBotTurn()
	if protocol.AsRejection(err).Code != protocol.CodeInvalidState {
		t.Errorf("continue after hand-off should be invalid-state, got %v", err)
	}
}

func TestAbortBotTurnResetsThinking(t *testing.T) {
	d, _ := newTestDirectory(t)
	c, _ := d.Open("title", "desc", 1)

	if err := c.StartBotTurn(); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.AbortBotTurn()
	st := c.Snapshot().State
	if st.BotThinking {
		t.Error("thinking flag should be cleared after abort")
	}
	if st.BotEverStarted {
		t.Error("aborted turn must not count as a completed start")
	}
	// The turn can be retried.
	if err := c.StartBotTurn(); err != nil {
		t.Errorf("retry after abort: %v", err)
	}
}

func TestWatcherReAddIsNoop(t *testing.T) {
	d, n := newTestDirectory(t)
	c, _ := d.Open("title", "desc", 1)
	c.AddWatcher(1)
	c.AddWatcher(1)
	c.AddWatcher(2)

	c.mu.Lock()
	count := len(c.watchers)
	c.mu.Unlock()
	if count != 2 {
		t.Errorf("expected 2 watchers, got %d", count)
	}
	_ = n
}

func TestWatcherOnClosedCase(t *testing.T) {
	d, _ := newTestDirectory(t)
	c, _ := d.Open("title", "desc", 1)
	c.Close()
	// Closed cases still accept watchers for read access.
	c.AddWatcher(2)
	c.mu.Lock()
	count := len(c.watchers)
	c.mu.Unlock()
	if count != 1 {
		t.Errorf("expected watcher on closed case, got %d", count)
	}
}

func TestSnapshotIdempotent(t *testing.T) {
	d, _ := newTestDirectory(t)
	c, _ := d.Open("title", "desc", 1)
	c.AppendMessage(Author{Kind: protocol.AuthorOpener, UserID: 1}, "oi")

	a := c.Snapshot()
	b := c.Snapshot()
	if a.ID != b.ID || len(a.Messages) != len(b.Messages) || a.State != b.State {
		t.Errorf("snapshots differ with no mutation in between:\n%+v\n%+v", a, b)
	}
}

func TestConversationContext(t *testing.T) {
	d, _ := newTestDirectory(t)
	c, _ := d.Open("title", "desc", 1)

	history, latest := c.ConversationContext()
	if history != "" || latest != "" {
		t.Errorf("empty stream should yield empty context, got %q / %q", history, latest)
	}

	c.AppendMessage(Author{Kind: protocol.AuthorBot}, "Olá, como posso ajudar?")
	c.AppendMessage(Author{Kind: protocol.AuthorOpener, UserID: 1}, "continua\nlento")

	history, latest = c.ConversationContext()
	if history != "Assistente: Olá, como posso ajudar?\n" {
		t.Errorf("history %q", history)
	}
	if latest != "continua\nlento" {
		t.Errorf("latest %q", latest)
	}
}

func TestDirectoryLookups(t *testing.T) {
	d, _ := newTestDirectory(t)
	c1, _ := d.Open("a", "d", 1)
	d.Open("b", "d", 2)

	got, err := d.Get(c1.ID())
	if err != nil || got != c1 {
		t.Fatalf("get: %v", err)
	}
	_, err = d.Get("missing")
	if protocol.AsRejection(err).Code != protocol.CodeNotFound {
		t.Errorf("expected not-found, got %v", err)
	}

	if n := len(d.All()); n != 2 {
		t.Errorf("All: %d", n)
	}
	if n := len(d.ForOpener(1)); n != 1 {
		t.Errorf("ForOpener: %d", n)
	}

	c1.Close()
	if n := len(d.ClosedCases()); n != 1 {
		t.Errorf("ClosedCases: %d", n)
	}
}

func TestInvalidAuthorKind(t *testing.T) {
	d, _ := newTestDirectory(t)
	c, _ := d.Open("title", "desc", 1)
	_, err := c.AppendMessage(Author{Kind: protocol.AuthorKind("alien")}, "hi")
	if protocol.AsRejection(err).Code != protocol.CodeInvalidInput {
		t.Errorf("expected invalid-input, got %v", err)
	}
	var rej *protocol.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection type, got %T", err)
	}
}
