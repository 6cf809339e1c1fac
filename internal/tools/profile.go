package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/warden/internal/warehouse"
)

// QueryBehaviorProfile runs the canned 24-hour behavioral profile for an
// entity. The profile aggregates access and network activity in one
// round-trip so the AI does not have to rediscover the schema every run.
type QueryBehaviorProfile struct {
	runner warehouse.Runner
}

func NewQueryBehaviorProfile(runner warehouse.Runner) *QueryBehaviorProfile {
	return &QueryBehaviorProfile{runner: runner}
}

func (q *QueryBehaviorProfile) Name() string { return "query_behavior_profile" }

func (q *QueryBehaviorProfile) Description() string {
	return `Fetch the aggregated 24-hour behavioral profile for a user:
login failures, distinct source IPs, suspicious user agents, high-privilege
requests, risky file transfers, malicious command lines and DNS queries.
Use this first to get a baseline before drilling into raw events.`
}

func (q *QueryBehaviorProfile) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "user_id": {
                "type": "string",
                "description": "Entity identifier to profile, e.g. u.lewis"
            }
        },
        "required": ["user_id"]
    }`)
}

func (q *QueryBehaviorProfile) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if input.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	rows, err := q.runner.RunQuery(ctx, warehouse.ProfileQuery(input.UserID))
	if err != nil {
		return nil, fmt.Errorf("profile query failed: %w", err)
	}
	if len(rows) == 0 {
		return json.Marshal(map[string]any{"profile": nil, "note": "no activity in the last 24 hours"})
	}

	return json.Marshal(map[string]any{"profile": rows[0]})
}
