// Package audit provides the append-then-amend compliance record for triage
// outcomes. Every alert that enters the workflow terminates in exactly one
// row lineage here, keyed by ticket id.
package audit

import (
	"context"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/ticket"
)

// Agent decision values persisted to the sink.
const (
	DecisionFalsePositive   = "FALSE_POSITIVE"
	DecisionPerceivedThreat = "PERCEIVED_THREAT"
)

// TimeoutHumanDecision is recorded when no reviewer responds within the
// escalation budget.
const TimeoutHumanDecision = "Event not categorized in time"

// Row is one audit record. Field names are part of the wire contract with
// downstream mailbox and reporting consumers and must not change.
type Row struct {
	TicketID             string  `json:"ticket_id"`
	TransactionWindowEnd string  `json:"transaction_window_end,omitempty"`
	UserID               string  `json:"user_id"`
	DeviceID             string  `json:"device_id,omitempty"`
	SourceIP             string  `json:"source_ip,omitempty"`
	Total2MinThreatScore float64 `json:"total_2_min_threat_score,omitempty"`
	AlertPayload         string  `json:"alert_payload"`
	AgentDecision        string  `json:"agent_decision,omitempty"`
	AgentReason          string  `json:"agent_reason,omitempty"`
	HumanDecision        string  `json:"human_decision,omitempty"`
	HumanReason          string  `json:"human_reason,omitempty"`
}

// Store is the persistence interface for audit rows. Upsert is keyed by
// ticket id and must be idempotent: replaying a terminal write leaves the
// store in the same observable state.
type Store interface {
	Upsert(ctx context.Context, id ticket.ID, row *Row) error
	Get(ctx context.Context, id ticket.ID) (*Row, bool, error)
}

// NewRow builds a row from the canonical alert, with decision columns unset.
func NewRow(id ticket.ID, al *alert.Alert) *Row {
	r := &Row{
		TicketID:             id.String(),
		UserID:               al.UserID,
		DeviceID:             al.DeviceID,
		SourceIP:             al.SourceIP,
		Total2MinThreatScore: al.ThreatScore,
		AlertPayload:         al.Raw,
	}
	if !al.WindowEnd.IsZero() {
		r.TransactionWindowEnd = al.WindowEnd.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return r
}
