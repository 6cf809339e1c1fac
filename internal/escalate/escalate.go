// Package escalate runs the human-in-the-loop leg of a triage: it writes an
// escalation request into the shared mailbox, polls for an analyst response,
// and resolves the case either by the human's decision or by timeout. Every
// terminal path leaves zero residual mailbox objects and exactly one audit
// row for the ticket.
package escalate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/audit"
	"github.com/linnemanlabs/warden/internal/blob"
	"github.com/linnemanlabs/warden/internal/ticket"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/escalate")

// State tracks the mailbox exchange for one case.
type State string

const (
	StateRequestWritten    State = "REQUEST_WRITTEN"
	StateAwaitingResponse  State = "AWAITING_RESPONSE"
	StateResolvedByHuman   State = "RESOLVED_BY_HUMAN"
	StateResolvedByTimeout State = "RESOLVED_BY_TIMEOUT"
	StateCleanedUp         State = "CLEANED_UP"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 300 * time.Second
)

// Request is the file written for the analyst.
type Request struct {
	Timestamp                time.Time `json:"timestamp"`
	TicketID                 string    `json:"ticket_id"`
	ContextForHuman          string    `json:"context_for_human"`
	AgentReasonForEscalation string    `json:"agent_reason_for_escalation"`
}

// Response is the file the analyst writes back.
type Response struct {
	HumanDecision string `json:"human_decision"`
	HumanComment  string `json:"human_comment"`
}

// Resolution is the terminal outcome of one escalation.
type Resolution struct {
	State         State
	HumanDecision string
	HumanComment  string
}

// RequestPath and ResponsePath name the mailbox objects for a ticket. The
// analyst tooling matches on these exact shapes.
func RequestPath(tid ticket.ID) string {
	return fmt.Sprintf("human_escalation_information_%s.json", tid)
}

func ResponsePath(tid ticket.ID) string {
	return fmt.Sprintf("human_escalation_response_%s.json", tid)
}

// Escalator drives the mailbox exchange and writes the audit trail.
type Escalator struct {
	store        blob.Store
	auditStore   audit.Store
	logger       log.Logger
	pollInterval time.Duration
	timeout      time.Duration
	now          func() time.Time
}

// Option tunes an Escalator.
type Option func(*Escalator)

func WithPollInterval(d time.Duration) Option {
	return func(e *Escalator) { e.pollInterval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(e *Escalator) { e.timeout = d }
}

func New(store blob.Store, auditStore audit.Store, logger log.Logger, opts ...Option) *Escalator {
	e := &Escalator{
		store:        store,
		auditStore:   auditStore,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Describe reports what this node does.
func (e *Escalator) Describe() string {
	return fmt.Sprintf("escalation mailbox: poll every %s for a human response, resolve by timeout after %s",
		e.pollInterval, e.timeout)
}

// Run executes the full exchange for one case: write request, poll for the
// response until the budget elapses, resolve, clean up, audit. The error
// return is reserved for infrastructure failures and context cancellation;
// a timeout is a normal resolution, not an error.
func (e *Escalator) Run(ctx context.Context, tid ticket.ID, al *alert.Alert, report, reason string) (Resolution, error) {
	ctx, span := tracer.Start(ctx, "escalate.Run")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_id", string(tid)))

	L := e.logger.With("ticket_id", tid, "user_id", al.UserID)

	req := Request{
		Timestamp:                e.now().UTC(),
		TicketID:                 string(tid),
		ContextForHuman:          report,
		AgentReasonForEscalation: reason,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return Resolution{}, fmt.Errorf("marshal escalation request: %w", err)
	}
	if err := e.store.Put(ctx, RequestPath(tid), data); err != nil {
		return Resolution{}, fmt.Errorf("write escalation request: %w", err)
	}
	L.Info(ctx, "escalation request written", "path", RequestPath(tid))

	resp, state, err := e.await(ctx, tid, L)
	if err != nil {
		// cancellation, not timeout: try to withdraw the request so the
		// analyst does not answer into the void
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if derr := e.store.Delete(cleanupCtx, RequestPath(tid)); derr != nil {
			L.Warn(ctx, "request cleanup failed after cancellation", "error", derr.Error())
		}
		return Resolution{}, err
	}

	row := audit.NewRow(tid, al)
	row.AgentDecision = audit.DecisionPerceivedThreat
	row.AgentReason = reason

	res := Resolution{State: state}
	switch state {
	case StateResolvedByHuman:
		res.HumanDecision = resp.HumanDecision
		res.HumanComment = resp.HumanComment
		row.HumanDecision = resp.HumanDecision
		row.HumanReason = resp.HumanComment
	case StateResolvedByTimeout:
		row.HumanDecision = audit.TimeoutHumanDecision
	}

	if err := e.auditStore.Upsert(ctx, tid, row); err != nil {
		return Resolution{}, fmt.Errorf("audit escalation outcome: %w", err)
	}

	if err := e.cleanup(ctx, tid, state); err != nil {
		L.Warn(ctx, "mailbox cleanup incomplete", "error", err.Error())
	}

	span.SetAttributes(attribute.String("resolution", string(state)))
	L.Info(ctx, "escalation resolved",
		"state", string(state),
		"human_decision", row.HumanDecision,
	)
	return res, nil
}

// await polls the mailbox until a response appears or the budget elapses.
// A response that does not parse counts as no response.
func (e *Escalator) await(ctx context.Context, tid ticket.ID, L log.Logger) (Response, State, error) {
	deadline := e.now().Add(e.timeout)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	path := ResponsePath(tid)
	for {
		if !e.now().Before(deadline) {
			return Response{}, StateResolvedByTimeout, nil
		}

		select {
		case <-ctx.Done():
			return Response{}, "", ctx.Err()
		case <-ticker.C:
		}

		data, err := e.store.Get(ctx, path)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			L.Warn(ctx, "mailbox poll failed", "error", err.Error())
			continue
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			L.Warn(ctx, "malformed escalation response, ignoring", "error", err.Error())
			continue
		}
		if resp.HumanDecision == "" {
			L.Warn(ctx, "escalation response missing human_decision, ignoring")
			continue
		}
		return resp, StateResolvedByHuman, nil
	}
}

// cleanup removes the mailbox objects for a resolved case. Both paths are
// deleted regardless of resolution: deleting an absent object is a no-op,
// and a malformed response left behind on timeout must not linger.
func (e *Escalator) cleanup(ctx context.Context, tid ticket.ID, _ State) error {
	var firstErr error
	if err := e.store.Delete(ctx, RequestPath(tid)); err != nil {
		firstErr = err
	}
	if err := e.store.Delete(ctx, ResponsePath(tid)); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
