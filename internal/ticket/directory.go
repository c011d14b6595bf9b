package ticket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atende-io/atende/pkg/protocol"
)

// Directory is the global case registry. It owns display sequence
// assignment: a single shared counter, incremented in arrival order,
// never reused or reassigned.
type Directory struct {
	mu    sync.RWMutex
	cases []*Case
	byID  map[string]*Case

	notifier  Notifier
	users     UserResolver
	closeHook func(*Case)
	logger    *slog.Logger
}

// NewDirectory creates an empty case directory. notifier may be nil when
// no real-time channel is attached.
func NewDirectory(notifier Notifier, users UserResolver, logger *slog.Logger) *Directory {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if users == nil {
		users = noopResolver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		byID:     make(map[string]*Case),
		notifier: notifier,
		users:    users,
		logger:   logger,
	}
}

// SetNotifier attaches the real-time channel after construction. The
// hub needs the directory to exist before it can be built, so wiring
// happens in two steps. Must be called before cases are opened.
func (d *Directory) SetNotifier(n Notifier) {
	if n != nil {
		d.notifier = n
	}
}

// SetCloseHook installs the side effect fired after a case closes
// (reindexing the closed case into the knowledge base). Must be called
// before cases start closing.
func (d *Directory) SetCloseHook(fn func(*Case)) {
	d.closeHook = fn
}

// Open creates a case in the Unassigned state. Title and description
// must be non-empty; openerID is the already-verified identity resolved
// by the session gate.
func (d *Directory) Open(title, description string, openerID int64) (*Case, error) {
	if title == "" {
		return nil, protocol.Reject(protocol.CodeInvalidInput, "case title must not be empty")
	}
	if description == "" {
		return nil, protocol.Reject(protocol.CodeInvalidInput, "case description must not be empty")
	}

	d.mu.Lock()
	c := &Case{
		id:          uuid.NewString(),
		displaySeq:  len(d.cases) + 1,
		title:       title,
		description: description,
		openerID:    openerID,
		openedAt:    time.Now(),
		notifier:    d.notifier,
		users:       d.users,
		closeHook:   d.closeHook,
		logger:      d.logger,
	}
	d.cases = append(d.cases, c)
	d.byID[c.id] = c
	d.mu.Unlock()

	d.logger.Info("case opened", "case", c.id, "seq", c.displaySeq, "opener", openerID, "title", title)
	return c, nil
}

// Get returns the case with the given UUID.
func (d *Directory) Get(id string) (*Case, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.byID[id]
	if !ok {
		return nil, protocol.Rejectf(protocol.CodeNotFound, "case %s not found", id)
	}
	return c, nil
}

// All returns every case in creation order.
func (d *Directory) All() []*Case {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Case, len(d.cases))
	copy(out, d.cases)
	return out
}

// ForOpener returns the cases opened by the given user, in creation order.
func (d *Directory) ForOpener(openerID int64) []*Case {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*Case
	for _, c := range d.cases {
		if c.openerID == openerID {
			out = append(out, c)
		}
	}
	return out
}

// ClosedCases returns every closed case, for knowledge rebuilds.
func (d *Directory) ClosedCases() []*Case {
	var out []*Case
	for _, c := range d.All() {
		if c.Closed() {
			out = append(out, c)
		}
	}
	return out
}

type noopNotifier struct{}

func (noopNotifier) Broadcast([]int64, protocol.CaseEvent) {}

type noopResolver struct{}

func (noopResolver) LookupUser(int64) (protocol.UserRef, bool) { return protocol.UserRef{}, false }
