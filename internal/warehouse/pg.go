package warehouse

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/warehouse")

// maxRows caps result sets so a broad query cannot blow the investigation
// context window.
const maxRows = 200

// PG executes warehouse queries against PostgreSQL.
type PG struct {
	pool *pgxpool.Pool
}

// NewPG returns a PG runner on the given pool.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

// RunQuery guards then executes a statement, returning up to maxRows rows as
// column-keyed maps.
func (p *PG) RunQuery(ctx context.Context, sql string) ([]map[string]any, error) {
	ctx, span := tracer.Start(ctx, "warehouse.RunQuery", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	if err := GuardStatement(sql); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rows, err := p.pool.Query(ctx, sql)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("warehouse query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		if len(out) >= maxRows {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// FindEvidenceURI returns the screenshot URI associated with the user's
// recent activity, or "" when there is none.
func (p *PG) FindEvidenceURI(ctx context.Context, userID string) (string, error) {
	ctx, span := tracer.Start(ctx, "warehouse.FindEvidenceURI", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("warden.entity.user", userID),
	))
	defer span.End()

	var uri string
	err := p.pool.QueryRow(ctx, EvidenceURIQuery(userID)).Scan(&uri)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("evidence lookup: %w", err)
	}
	return uri, nil
}
