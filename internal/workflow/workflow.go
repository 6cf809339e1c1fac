package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/audit"
	"github.com/linnemanlabs/warden/internal/decision"
	"github.com/linnemanlabs/warden/internal/escalate"
	"github.com/linnemanlabs/warden/internal/investigate"
	"github.com/linnemanlabs/warden/internal/session"
	"github.com/linnemanlabs/warden/internal/ticket"
)

// Outcome labels for terminal triage states.
const (
	OutcomeFalsePositive   = "false_positive"
	OutcomeResolvedByHuman = "resolved_by_human"
	OutcomeTimedOut        = "timed_out"
	OutcomeAborted         = "aborted"
)

// SubmitResult is returned to the ingest caller before triage runs.
type SubmitResult struct {
	CaseID string      `json:"case_id"`
	Hint   ticket.Hint `json:"ticket_hint,omitempty"`
}

// Notification describes a terminal triage outcome for the notifier.
type Notification struct {
	TicketID      ticket.ID
	UserID        string
	ThreatScore   float64
	Outcome       string
	AgentReason   string
	HumanDecision string
	HumanComment  string
	Duration      float64
}

// Notifier delivers terminal-outcome notifications. Implementations must
// tolerate being called concurrently.
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
}

// Describer is implemented by every pipeline node so the assembled
// pipeline can report its own shape.
type Describer interface {
	Describe() string
}

// Service is the business boundary of the triage pipeline: it accepts raw
// alerts, runs the full normalize/investigate/decide/escalate sequence
// asynchronously, and answers case lookups from the audit trail.
type Service struct {
	binder    *session.Binder
	runner    *investigate.Runner
	gate      *decision.Gate
	escalator *escalate.Escalator
	audits    audit.Store
	notifier  Notifier
	metrics   *Metrics
	logger    log.Logger
}

func NewService(
	binder *session.Binder,
	runner *investigate.Runner,
	gate *decision.Gate,
	escalator *escalate.Escalator,
	audits audit.Store,
	notifier Notifier,
	metrics *Metrics,
	logger log.Logger,
) *Service {
	return &Service{
		binder:    binder,
		runner:    runner,
		gate:      gate,
		escalator: escalator,
		audits:    audits,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
	}
}

// Describe reports the assembled pipeline node by node.
func (s *Service) Describe() string {
	parts := make([]string, 0, 4)
	for _, node := range []Describer{s.binder, s.runner, s.gate, s.escalator} {
		parts = append(parts, node.Describe())
	}
	return "triage pipeline: " + strings.Join(parts, " -> ")
}

// Submit accepts a raw alert and kicks off triage. The case id it returns
// identifies the run in logs; the durable ticket id is minted by the
// decision step and becomes visible through the audit trail.
func (s *Service) Submit(ctx context.Context, raw string) (*SubmitResult, error) {
	hint, canonical := alert.Normalize(raw)
	al := alert.Parse(canonical)
	caseID := ulid.Make().String()

	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues("accepted").Inc()
	}
	s.logger.Info(ctx, "alert accepted",
		"case_id", caseID,
		"user_id", al.UserID,
		"threat_score", al.ThreatScore,
		"ticket_hint", string(hint),
	)

	go s.run(context.WithoutCancel(ctx), caseID, al)

	return &SubmitResult{CaseID: caseID, Hint: hint}, nil
}

// GetCase returns the audit row for a ticket.
func (s *Service) GetCase(ctx context.Context, tid ticket.ID) (*audit.Row, bool, error) {
	return s.audits.Get(ctx, tid)
}

func (s *Service) run(ctx context.Context, caseID string, al *alert.Alert) {
	start := time.Now()
	L := s.logger.With("case_id", caseID, "user_id", al.UserID)

	// session binding groups cases per user; losing it degrades grouping,
	// never the triage itself
	sess, err := s.binder.Resolve(ctx, al.UserID)
	if err != nil {
		L.Warn(ctx, "session binding failed, continuing unbound", "error", err.Error())
	} else {
		L = L.With("session_id", sess.ID)
	}

	findings := s.runner.Run(ctx, al)
	out := s.gate.Decide(ctx, al, findings)
	L = L.With("ticket_id", out.TicketID)

	outcome := s.resolve(ctx, L, al, out)

	duration := time.Since(start).Seconds()
	if s.metrics != nil {
		s.metrics.TriagesTotal.WithLabelValues(outcome).Inc()
		s.metrics.TriageDuration.WithLabelValues(outcome).Observe(duration)
	}
	L.Info(ctx, "triage complete", "outcome", outcome, "duration", duration)
}

// resolve drives the verdict to exactly one terminal audit state and
// returns the outcome label.
func (s *Service) resolve(ctx context.Context, L log.Logger, al *alert.Alert, out decision.Outcome) string {
	switch out.Verdict {
	case decision.VerdictFalsePositive:
		row := audit.NewRow(out.TicketID, al)
		row.AgentDecision = audit.DecisionFalsePositive
		row.AgentReason = out.Reason
		if err := s.audits.Upsert(ctx, out.TicketID, row); err != nil {
			L.Error(ctx, err, "audit write failed")
			return OutcomeAborted
		}
		s.notify(ctx, L, &Notification{
			TicketID:    out.TicketID,
			UserID:      al.UserID,
			ThreatScore: al.ThreatScore,
			Outcome:     OutcomeFalsePositive,
			AgentReason: out.Reason,
		})
		return OutcomeFalsePositive

	default:
		res, err := s.escalator.Run(ctx, out.TicketID, al, out.Report, out.Reason)
		if err != nil {
			L.Error(ctx, err, "escalation failed")
			return OutcomeAborted
		}

		outcome := OutcomeTimedOut
		if res.State == escalate.StateResolvedByHuman {
			outcome = OutcomeResolvedByHuman
		}
		s.notify(ctx, L, &Notification{
			TicketID:      out.TicketID,
			UserID:        al.UserID,
			ThreatScore:   al.ThreatScore,
			Outcome:       outcome,
			AgentReason:   out.Reason,
			HumanDecision: res.HumanDecision,
			HumanComment:  res.HumanComment,
		})
		return outcome
	}
}

func (s *Service) notify(ctx context.Context, L log.Logger, n *Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, n); err != nil {
		L.Warn(ctx, "notification failed", "error", err.Error())
	}
}
