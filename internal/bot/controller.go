package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/atende-io/atende/internal/provider"
	"github.com/atende-io/atende/internal/ticket"
	"github.com/atende-io/atende/pkg/protocol"
)

const defaultIdleTimeout = 15 * time.Second

// Controller mediates the single in-flight generation request per case.
// The case's botThinking flag is the mutual-exclusion token: a turn only
// proceeds once Start/ContinueBotTurn reserved it, and every exit path
// releases it exactly once.
type Controller struct {
	gen         provider.Generator
	sources     []string
	idleTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithIdleTimeout overrides the per-chunk idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) { c.idleTimeout = d }
}

// WithSources sets the knowledge sources offered to the generator.
func WithSources(sources []string) Option {
	return func(c *Controller) { c.sources = sources }
}

// NewController creates a bot controller over the given generator.
func NewController(gen provider.Generator, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		gen:         gen,
		sources:     []string{"cases"},
		idleTimeout: defaultIdleTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartInitialInteraction runs the bot's first turn on a case. It is
// accepted at most once per case: rejected once the bot has ever
// started, or while a turn is already in flight.
func (c *Controller) StartInitialInteraction(ctx context.Context, cs *ticket.Case) error {
	if err := cs.StartBotTurn(); err != nil {
		return err
	}
	c.logger.Info("bot initial interaction", "case", cs.ID(), "title", cs.Title())

	question := fmt.Sprintf("Estou com esse problema: %s, descrição: %s", cs.Title(), cs.Description())
	return c.runTurn(ctx, cs, initialSystemPrompt, question, true)
}

// ContinueInteraction runs a follow-up turn: the transcript of every
// prior message (except the newest) becomes conversation context, and
// the newest message is the question.
func (c *Controller) ContinueInteraction(ctx context.Context, cs *ticket.Case) error {
	if err := cs.ContinueBotTurn(); err != nil {
		return err
	}
	c.logger.Info("bot continue interaction", "case", cs.ID())

	history, latest := cs.ConversationContext()
	if latest == "" {
		latest = "Me ajude"
	}
	system := strings.Replace(continueSystemPrompt, "{historico}", history, 1)
	question := "Continue tentando me ajudar com o meu problema: " + latest
	return c.runTurn(ctx, cs, system, question, false)
}

// TransferToAgent hands the case to a human agent, permanently
// displacing the bot.
func (c *Controller) TransferToAgent(cs *ticket.Case) error {
	if err := cs.AssignAgent(); err != nil {
		return err
	}
	c.logger.Info("case transferred to agent", "case", cs.ID())
	return nil
}

// turnState marks a turn dead after a timeout, failure, or completion,
// so late generation callbacks fall through harmlessly instead of
// mutating a turn that already resolved.
type turnState struct {
	once sync.Once
	dead chan struct{}
}

func newTurnState() *turnState {
	return &turnState{dead: make(chan struct{})}
}

func (t *turnState) kill() {
	t.once.Do(func() { close(t.dead) })
}

// runTurn creates the placeholder message, fires the generation request,
// and relays streamed chunks into the message. The idle timer resets on
// every chunk; if it fires, the wait is abandoned (the upstream call is
// not cancelled — a late completion lands on a dead turn and is dropped).
func (c *Controller) runTurn(ctx context.Context, cs *ticket.Case, system, question string, initial bool) error {
	msg, err := cs.AppendMessage(ticket.Author{Kind: protocol.AuthorBot}, "")
	if err != nil {
		cs.AbortBotTurn()
		return err
	}

	turn := newTurnState()
	chunks := make(chan string, 16)
	done := make(chan string, 1)
	errc := make(chan error, 1)

	go func() {
		_, err := c.gen.Generate(ctx, provider.Request{
			System:   system,
			Question: question,
			Sources:  c.sources,
			Stream: &provider.Stream{
				OnChunk: func(s string) {
					select {
					case chunks <- s:
					case <-turn.dead:
					}
				},
				OnDone: func(full string) {
					select {
					case done <- full:
					case <-turn.dead:
					}
				},
			},
		})
		if err != nil {
			select {
			case errc <- err:
			case <-turn.dead:
			}
		}
	}()

	idle := time.NewTimer(c.idleTimeout)
	defer idle.Stop()
	defer turn.kill()

	for {
		select {
		case s := <-chunks:
			// A closed case rejects the append; the stream is discarded.
			if err := msg.AppendText(s); err != nil {
				c.logger.Warn("bot chunk discarded", "case", cs.ID(), "error", err)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.idleTimeout)

		case full := <-done:
			c.drainChunks(cs, msg, chunks)
			if err := msg.SetText(full); err != nil {
				c.logger.Warn("bot response discarded", "case", cs.ID(), "error", err)
			}
			cs.FinishBotTurn(initial)
			c.logger.Info("bot response complete", "case", cs.ID(), "seq", msg.Seq(), "len", len(full))
			return nil

		case err := <-errc:
			cs.AbortBotTurn()
			c.logger.Error("generation failed", "case", cs.ID(), "error", err)
			return protocol.Rejectf(protocol.CodeUpstreamFailure, "failed to generate the bot response: %v", err)

		case <-idle.C:
			cs.AbortBotTurn()
			c.logger.Warn("bot response timed out", "case", cs.ID(), "timeout", c.idleTimeout)
			return protocol.Rejectf(protocol.CodeUpstreamTimeout,
				"the bot took more than %s to respond", c.idleTimeout)

		case <-ctx.Done():
			cs.AbortBotTurn()
			return protocol.Reject(protocol.CodeUpstreamFailure, "generation cancelled")
		}
	}
}

// drainChunks applies any chunks still buffered when the completion
// arrived, preserving append-then-replace event order for watchers.
func (c *Controller) drainChunks(cs *ticket.Case, msg *ticket.Message, chunks <-chan string) {
	for {
		select {
		case s := <-chunks:
			if err := msg.AppendText(s); err != nil {
				return
			}
		default:
			return
		}
	}
}
