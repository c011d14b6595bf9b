package protocol

// Command names exchanged over the real-time channel. Clients invoke the
// request commands; the server initiates CommandCaseUpdated pushes.
const (
	CommandAuthenticate = "authenticate"
	CommandConnectChat  = "connect-chat"
	CommandSendMessage  = "send-message"
	CommandInteract     = "interact"
	CommandCaseUpdated  = "case-updated"
)

// InteractionType discriminates the sub-operation of an "interact" command.
type InteractionType string

const (
	InteractStartBot    InteractionType = "start-bot"
	InteractContinueBot InteractionType = "continue-bot"
	InteractClose       InteractionType = "close"
	InteractReadState   InteractionType = "read-state"
	InteractAssignAgent InteractionType = "assign-agent"
)

// AuthenticateRequest binds a connection to a session token. It must
// arrive within the authentication window after connecting.
type AuthenticateRequest struct {
	Token string `json:"token"`
}

// ConnectChatRequest registers the caller as a watcher of a case.
type ConnectChatRequest struct {
	CaseID string `json:"case_id"`
}

// SendMessageRequest appends a message to a case's stream.
type SendMessageRequest struct {
	CaseID string     `json:"case_id"`
	Author AuthorKind `json:"author"`
	Text   string     `json:"text"`
}

// SendMessageResult echoes the stored message back to the sender.
type SendMessageResult struct {
	Seq        int        `json:"seq"`
	Author     AuthorKind `json:"author"`
	Text       string     `json:"text"`
	ReceivedAt string     `json:"received_at"`
}

// InteractRequest drives a case-level operation, discriminated by Type.
type InteractRequest struct {
	CaseID string          `json:"case_id"`
	Type   InteractionType `json:"type"`
}
