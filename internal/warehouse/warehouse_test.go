package warehouse

import (
	"errors"
	"strings"
	"testing"
)

func TestGuardStatement_BlocksDestructiveDML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
	}{
		{"update", "UPDATE threat_assessments SET agent_decision = 'x'"},
		{"delete", "DELETE FROM user_access_events"},
		{"merge", "MERGE INTO t USING s ON t.id = s.id"},
		{"truncate", "TRUNCATE user_access_events"},
		{"lowercase", "update t set x = 1"},
		{"mixed case", "DeLeTe FROM t"},
		{"leading whitespace", "   \n\tUPDATE t SET x = 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := GuardStatement(tt.sql)
			if !errors.Is(err, ErrForbiddenStatement) {
				t.Errorf("GuardStatement(%q) = %v, want ErrForbiddenStatement", tt.sql, err)
			}
		})
	}
}

func TestGuardStatement_AllowsReads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
	}{
		{"select", "SELECT * FROM user_access_events"},
		{"cte", "WITH x AS (SELECT 1) SELECT * FROM x"},
		{"keyword as substring", "SELECT deleted_at, update_count FROM t"},
		{"keyword mid-statement", "SELECT * FROM t WHERE note = 'DELETE'"},
		{"updated prefix word", "UPDATED_ROWS_VIEW"}, // not the bare keyword
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := GuardStatement(tt.sql); err != nil {
				t.Errorf("GuardStatement(%q) = %v, want nil", tt.sql, err)
			}
		})
	}
}

func TestProfileQuery_InlinesSanitizedEntity(t *testing.T) {
	t.Parallel()

	q := ProfileQuery("u.lewis")
	if !strings.Contains(q, "user_id = 'u.lewis'") {
		t.Error("profile query missing entity predicate")
	}
	if !strings.Contains(q, "interval '24 hours'") {
		t.Error("profile query missing 24h window")
	}
	if err := GuardStatement(q); err != nil {
		t.Errorf("profile query rejected by guard: %v", err)
	}
}

func TestProfileQuery_SanitizesHostileEntity(t *testing.T) {
	t.Parallel()

	q := ProfileQuery("x'; DROP TABLE user_access_events; --")
	if strings.Contains(q, "DROP TABLE") {
		t.Error("hostile entity id survived into generated SQL")
	}
	if !strings.Contains(q, "user_id = 'x'") {
		t.Errorf("sanitized entity not inlined:\n%s", q)
	}
}

func TestEvidenceURIQuery(t *testing.T) {
	t.Parallel()

	q := EvidenceURIQuery("l.taylor")
	if !strings.Contains(q, "'l.taylor'") {
		t.Error("evidence query missing user predicate")
	}
	if !strings.Contains(q, "LIMIT 1") {
		t.Error("evidence query must be bounded")
	}
}
