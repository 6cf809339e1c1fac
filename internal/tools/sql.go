package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/linnemanlabs/warden/internal/warehouse"
)

// ExecuteSQL runs a read query against the security event warehouse. Every
// statement passes the warehouse DML guard before execution; a blocked
// statement is surfaced to the AI as an error result rather than failing the
// investigation.
type ExecuteSQL struct {
	runner warehouse.Runner
}

func NewExecuteSQL(runner warehouse.Runner) *ExecuteSQL {
	return &ExecuteSQL{runner: runner}
}

func (e *ExecuteSQL) Name() string { return "execute_sql" }

func (e *ExecuteSQL) Description() string {
	return `Run a read-only SQL query against the security event warehouse
(Postgres dialect). Available tables: user_access_events (login activity,
source IPs, user agents), network_events (file transfers, DNS queries,
command lines), user_screenshots (visual evidence URIs). Destructive
statements (UPDATE, DELETE, MERGE, TRUNCATE) are rejected. Returns rows as
JSON objects, capped to keep output bounded.`
}

func (e *ExecuteSQL) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "sql": {
                "type": "string",
                "description": "SQL SELECT or WITH statement to execute"
            }
        },
        "required": ["sql"]
    }`)
}

func (e *ExecuteSQL) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		SQL string `json:"sql"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if input.SQL == "" {
		return nil, fmt.Errorf("sql is required")
	}

	rows, err := e.runner.RunQuery(ctx, input.SQL)
	if err != nil {
		if errors.Is(err, warehouse.ErrForbiddenStatement) {
			return nil, fmt.Errorf("statement rejected: only read queries are permitted")
		}
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return json.Marshal(map[string]any{
		"row_count": len(rows),
		"rows":      rows,
	})
}
