package hub

import (
	"encoding/json"
	"time"

	"github.com/atende-io/atende/internal/session"
	"github.com/atende-io/atende/internal/ticket"
	"github.com/atende-io/atende/pkg/protocol"
)

func (h *Hub) handleAuthenticate(c *conn, payload json.RawMessage) (any, error) {
	var req protocol.AuthenticateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, protocol.Reject(protocol.CodeInvalidInput, "malformed authenticate payload")
	}
	if req.Token == "" {
		return nil, protocol.Reject(protocol.CodeInvalidInput, "token is required")
	}

	u, err := h.sessions.Resolve(req.Token)
	if err != nil {
		return nil, err
	}
	h.register(c, u, req.Token)
	h.logger.Info("connection authenticated", "user", u.ID, "agent", u.Agent)
	return u.Ref(), nil
}

func (h *Hub) handleConnectChat(c *conn, payload json.RawMessage) (any, error) {
	u, err := h.requireAuth(c)
	if err != nil {
		return nil, err
	}
	var req protocol.ConnectChatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, protocol.Reject(protocol.CodeInvalidInput, "malformed connect-chat payload")
	}
	if req.CaseID == "" {
		return nil, protocol.Reject(protocol.CodeInvalidInput, "case_id is required")
	}

	cs, err := h.cases.Get(req.CaseID)
	if err != nil {
		return nil, err
	}
	// Closed cases still accept watchers for read access.
	cs.AddWatcher(u.ID)
	return cs.Summary(), nil
}

func (h *Hub) handleSendMessage(c *conn, payload json.RawMessage) (any, error) {
	u, err := h.requireAuth(c)
	if err != nil {
		return nil, err
	}
	var req protocol.SendMessageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, protocol.Reject(protocol.CodeInvalidInput, "malformed send-message payload")
	}
	if req.Text == "" {
		return nil, protocol.Reject(protocol.CodeInvalidInput, "message text must not be empty")
	}

	cs, err := h.cases.Get(req.CaseID)
	if err != nil {
		return nil, err
	}

	switch req.Author {
	case protocol.AuthorOpener:
		if u.ID != cs.OpenerID() {
			return nil, protocol.Reject(protocol.CodeForbidden, "only the case opener may send opener messages")
		}
	case protocol.AuthorAgent:
		if !u.Agent {
			return nil, protocol.Reject(protocol.CodeForbidden, "agent messages require the agent privilege")
		}
	default:
		return nil, protocol.Rejectf(protocol.CodeInvalidInput, "invalid message author %q", req.Author)
	}

	m, err := cs.AppendMessage(ticket.Author{Kind: req.Author, UserID: u.ID}, req.Text)
	if err != nil {
		return nil, err
	}
	return protocol.SendMessageResult{
		Seq:        m.Seq(),
		Author:     req.Author,
		Text:       req.Text,
		ReceivedAt: m.ReceivedAt().Format(time.RFC3339),
	}, nil
}

func (h *Hub) handleInteract(c *conn, payload json.RawMessage) (any, error) {
	u, err := h.requireAuth(c)
	if err != nil {
		return nil, err
	}
	var req protocol.InteractRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, protocol.Reject(protocol.CodeInvalidInput, "malformed interact payload")
	}

	cs, err := h.cases.Get(req.CaseID)
	if err != nil {
		return nil, err
	}

	switch req.Type {
	case protocol.InteractStartBot:
		if err := requireStakeholder(u, cs); err != nil {
			return nil, err
		}
		return nil, h.bot.StartInitialInteraction(c.ctx, cs)

	case protocol.InteractContinueBot:
		if err := requireStakeholder(u, cs); err != nil {
			return nil, err
		}
		return nil, h.bot.ContinueInteraction(c.ctx, cs)

	case protocol.InteractClose:
		if !u.Agent && u.ID != cs.OpenerID() {
			return nil, protocol.Reject(protocol.CodeForbidden, "only the opener or an agent may close a case")
		}
		return nil, cs.Close()

	case protocol.InteractReadState:
		if err := requireStakeholder(u, cs); err != nil {
			return nil, err
		}
		return cs.Snapshot(), nil

	case protocol.InteractAssignAgent:
		if !u.Agent {
			return nil, protocol.Reject(protocol.CodeForbidden, "taking over a case requires the agent privilege")
		}
		return nil, h.bot.TransferToAgent(cs)

	default:
		return nil, protocol.Rejectf(protocol.CodeInvalidInput, "unknown interaction type %q", req.Type)
	}
}

func requireStakeholder(u *session.User, cs *ticket.Case) error {
	if u.Agent || u.ID == cs.OpenerID() {
		return nil
	}
	return protocol.Reject(protocol.CodeForbidden, "you are not a stakeholder of this case")
}
