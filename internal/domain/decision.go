package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the enumerated action an engine can propose.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Actions lists the known action set in a fixed order.
func Actions() []Action {
	return []Action{ActionBuy, ActionSell, ActionHold}
}

// Proposal is one engine's candidate action for a decision cycle.
// Confidence is clamped to [0,1] by the engine registry at collection time.
type Proposal struct {
	EngineID   string            `json:"engine_id"`
	Action     Action            `json:"action"`
	Confidence float64           `json:"confidence"`
	Rationale  map[string]string `json:"rationale,omitempty"`
}

// DecisionStatus is the lifecycle state of a decision.
// The only transition is PendingOutcome -> Resolved.
type DecisionStatus string

const (
	StatusPendingOutcome DecisionStatus = "pending_outcome"
	StatusResolved       DecisionStatus = "resolved"
)

// Decision is the audited result of one decision cycle: the winning proposal,
// every proposal that competed and the signal vector they all saw.
type Decision struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Signal    SignalVector   `json:"signal"`
	Selected  Proposal       `json:"selected"`
	Proposals []Proposal     `json:"proposals"`
	Status    DecisionStatus `json:"status"`

	// Degraded marks a cycle that completed with the safe default action
	// because no engine produced a proposal.
	Degraded bool `json:"degraded,omitempty"`
}

// Outcome is the realized result of a decision, delivered by the execution
// collaborator once the real-world effect of the action is known.
// Immutable once recorded; delivery may repeat (at-least-once).
type Outcome struct {
	DecisionID     string          `json:"decision_id"`
	RealizedReward decimal.Decimal `json:"realized_reward"`
	ResolvedAt     time.Time       `json:"resolved_at"`
}
