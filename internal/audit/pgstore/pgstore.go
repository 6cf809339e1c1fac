// Package pgstore provides a PostgreSQL implementation of audit.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/audit"
	"github.com/linnemanlabs/warden/internal/ticket"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/audit/pgstore")

//go:embed schema.sql
var schema string

// Store persists audit rows in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Upsert inserts or amends the row for a ticket. The write is keyed by ticket
// id so retries of the surrounding workflow never create a second lineage.
func (s *Store) Upsert(ctx context.Context, id ticket.ID, row *audit.Row) error {
	ctx, span := tracer.Start(ctx, "pgstore.Upsert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("warden.ticket.id", id.String()),
	))
	defer span.End()

	var windowEnd *time.Time
	if row.TransactionWindowEnd != "" {
		if t, err := time.Parse(time.RFC3339, row.TransactionWindowEnd); err == nil {
			windowEnd = &t
		}
	}

	query := `INSERT INTO threat_assessments (
		ticket_id, transaction_window_end, user_id, device_id, source_ip,
		total_2_min_threat_score, alert_payload, agent_decision, agent_reason,
		human_decision, human_reason
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (ticket_id) DO UPDATE SET
		transaction_window_end   = EXCLUDED.transaction_window_end,
		user_id                  = EXCLUDED.user_id,
		device_id                = EXCLUDED.device_id,
		source_ip                = EXCLUDED.source_ip,
		total_2_min_threat_score = EXCLUDED.total_2_min_threat_score,
		alert_payload            = EXCLUDED.alert_payload,
		agent_decision           = EXCLUDED.agent_decision,
		agent_reason             = EXCLUDED.agent_reason,
		human_decision           = EXCLUDED.human_decision,
		human_reason             = EXCLUDED.human_reason,
		updated_at               = now()`

	_, err := s.pool.Exec(ctx, query,
		id.String(), windowEnd, row.UserID, nullable(row.DeviceID), nullable(row.SourceIP),
		row.Total2MinThreatScore, row.AlertPayload, nullable(row.AgentDecision),
		nullable(row.AgentReason), nullable(row.HumanDecision), nullable(row.HumanReason),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert audit row: %w", err)
	}
	return nil
}

// Get retrieves the audit row for a ticket id.
func (s *Store) Get(ctx context.Context, id ticket.ID) (*audit.Row, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ticket_id, transaction_window_end, user_id, device_id, source_ip,
		total_2_min_threat_score, alert_payload, agent_decision, agent_reason,
		human_decision, human_reason
		FROM threat_assessments WHERE ticket_id = $1`

	var (
		r         audit.Row
		windowEnd *time.Time
		deviceID  *string
		sourceIP  *string
		score     *float64
		agentDec  *string
		agentRsn  *string
		humanDec  *string
		humanRsn  *string
	)
	err := s.pool.QueryRow(ctx, query, id.String()).Scan(
		&r.TicketID, &windowEnd, &r.UserID, &deviceID, &sourceIP,
		&score, &r.AlertPayload, &agentDec, &agentRsn, &humanDec, &humanRsn,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan audit row: %w", err)
	}

	if windowEnd != nil {
		r.TransactionWindowEnd = windowEnd.UTC().Format(time.RFC3339)
	}
	r.DeviceID = deref(deviceID)
	r.SourceIP = deref(sourceIP)
	if score != nil {
		r.Total2MinThreatScore = *score
	}
	r.AgentDecision = deref(agentDec)
	r.AgentReason = deref(agentRsn)
	r.HumanDecision = deref(humanDec)
	r.HumanReason = deref(humanRsn)

	return &r, true, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
