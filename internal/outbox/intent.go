// Package outbox keeps a local, durable record of every campaign dispatch so
// that a crash between the store insert and the gateway call leaves a trace
// the reconciler can act on.
package outbox

import (
	"time"

	"github.com/foxzi/wacampaign/internal/gateway"
	"github.com/foxzi/wacampaign/internal/models"
)

// State of a dispatch intent
type State string

const (
	StatePending   State = "pending"
	StateCommitted State = "committed"
	StateAborted   State = "aborted"
)

// Intent is written before any side effect of a dispatch. It carries the full
// gateway payload, including the phone list the state store never sees.
type Intent struct {
	ID        string                   `json:"id"`
	Campaign  models.Campaign          `json:"campaign"`
	Payload   *gateway.CampaignPayload `json:"payload"`
	State     State                    `json:"state"`
	Error     string                   `json:"error,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// Stats counts intents by state
type Stats struct {
	Pending   int `json:"pending"`
	Committed int `json:"committed"`
	Aborted   int `json:"aborted"`
}
