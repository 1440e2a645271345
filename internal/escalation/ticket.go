package escalation

import (
	"time"

	"github.com/fyrsmithlabs/navigatord/internal/session"
)

// DefaultContextTurns bounds how much preceding conversation a ticket
// carries.
const DefaultContextTurns = 6

// Ticket is the record handed to the external ticketing collaborator.
type Ticket struct {
	ConversationID string         `json:"conversation_id"`
	Reason         Reason         `json:"reason"`
	Priority       Priority       `json:"priority"`
	Triggering     session.Turn   `json:"triggering"`
	Context        []session.Turn `json:"context,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// BuildTicket assembles a ticket from the triggering turn and a bounded
// window of preceding context. maxContext <= 0 uses the default.
func BuildTicket(conversationID string, decision Decision, triggering session.Turn, history []session.Turn, maxContext int) Ticket {
	if maxContext <= 0 {
		maxContext = DefaultContextTurns
	}
	if len(history) > maxContext {
		history = history[len(history)-maxContext:]
	}

	context := append([]session.Turn(nil), history...)
	return Ticket{
		ConversationID: conversationID,
		Reason:         decision.Reason,
		Priority:       decision.Priority,
		Triggering:     triggering,
		Context:        context,
		CreatedAt:      time.Now().UTC(),
	}
}
