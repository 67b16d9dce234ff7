package domain

import "time"

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderVisitor Sender = "visitor"
	SenderAgent   Sender = "agent"
	SenderBot     Sender = "bot"
	SenderSystem  Sender = "system"
)

// IsCustomer reports whether the message was written by the visitor.
// Only customer text is ever matched against scoring rules.
func (s Sender) IsCustomer() bool {
	return s == SenderVisitor
}

// Valid reports whether s is a known sender role.
func (s Sender) Valid() bool {
	switch s {
	case SenderVisitor, SenderAgent, SenderBot, SenderSystem:
		return true
	}
	return false
}

// Session status values.
const (
	SessionOpen   = "open"
	SessionClosed = "closed"
)

// ChatSession is a live-chat conversation with a website visitor.
type ChatSession struct {
	ID            string    `json:"id"`
	CustomerName  string    `json:"customerName"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	AgentID       string    `json:"agentId,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Message is a single line of a chat transcript.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// CustomerTexts returns the texts of visitor-authored messages in transcript order.
func CustomerTexts(messages []Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Sender.IsCustomer() {
			out = append(out, m.Text)
		}
	}
	return out
}
