package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/warden/internal/signurl"
	"github.com/linnemanlabs/warden/internal/warehouse"
)

func testSigner() *signurl.Signer {
	return signurl.New("test-secret", "https://warden.test/evidence", 15*time.Minute)
}

type mockRunner struct {
	lastSQL string
	rows    []map[string]any
	err     error
	guard   bool
}

func (m *mockRunner) RunQuery(_ context.Context, sql string) ([]map[string]any, error) {
	m.lastSQL = sql
	if m.guard {
		if err := warehouse.GuardStatement(sql); err != nil {
			return nil, err
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.rows, nil
}

func TestExecuteSQL_ReturnsRows(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{rows: []map[string]any{
		{"user_id": "u.lewis", "failures": float64(42)},
	}}
	tool := NewExecuteSQL(runner)

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"sql":"SELECT * FROM user_access_events"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var result struct {
		RowCount int              `json:"row_count"`
		Rows     []map[string]any `json:"rows"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if result.RowCount != 1 {
		t.Errorf("row_count = %d, want 1", result.RowCount)
	}
	if result.Rows[0]["user_id"] != "u.lewis" {
		t.Errorf("rows[0].user_id = %v", result.Rows[0]["user_id"])
	}
}

func TestExecuteSQL_RejectsDestructiveStatement(t *testing.T) {
	t.Parallel()

	tool := NewExecuteSQL(&mockRunner{guard: true})
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"sql":"DELETE FROM user_access_events"}`))
	if err == nil {
		t.Fatal("expected error for destructive statement")
	}
	if !strings.Contains(err.Error(), "only read queries") {
		t.Errorf("error = %v, want read-only rejection", err)
	}
}

func TestExecuteSQL_RequiresSQL(t *testing.T) {
	t.Parallel()

	tool := NewExecuteSQL(&mockRunner{})
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for missing sql")
	}
}

func TestExecuteSQL_PropagatesQueryError(t *testing.T) {
	t.Parallel()

	tool := NewExecuteSQL(&mockRunner{err: fmt.Errorf("connection reset")})
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"sql":"SELECT 1"}`))
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("error = %v, want wrapped query error", err)
	}
}

func TestQueryBehaviorProfile(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{rows: []map[string]any{
		{"total_login_failures_24h": float64(7)},
	}}
	tool := NewQueryBehaviorProfile(runner)

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"user_id":"u.lewis"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(runner.lastSQL, "user_id = 'u.lewis'") {
		t.Errorf("generated SQL missing entity predicate:\n%s", runner.lastSQL)
	}

	var result struct {
		Profile map[string]any `json:"profile"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if result.Profile["total_login_failures_24h"] != float64(7) {
		t.Errorf("profile = %v", result.Profile)
	}
}

func TestQueryBehaviorProfile_NoActivity(t *testing.T) {
	t.Parallel()

	tool := NewQueryBehaviorProfile(&mockRunner{})
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"user_id":"ghost"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(string(out), "no activity") {
		t.Errorf("output = %s, want no-activity note", out)
	}
}

type mockLocator struct {
	uri string
	err error
}

func (m *mockLocator) FindEvidenceURI(_ context.Context, _ string) (string, error) {
	return m.uri, m.err
}

func TestFindEvidenceURI(t *testing.T) {
	t.Parallel()

	signer := testSigner()
	tool := NewFindEvidenceURI(&mockLocator{uri: "gs://evidence/u.lewis/capture.png"}, signer)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"user_id":"u.lewis"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var result struct {
		Found       bool   `json:"found"`
		EvidenceURI string `json:"evidence_uri"`
		SignedURL   string `json:"signed_url"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if !result.Found || result.EvidenceURI != "gs://evidence/u.lewis/capture.png" {
		t.Errorf("result = %+v", result)
	}
	if result.SignedURL == "" {
		t.Fatal("signed_url missing from tool result")
	}
	if !strings.HasPrefix(result.SignedURL, "https://warden.test/evidence?") {
		t.Errorf("signed_url = %q, want a fetchable evidence link", result.SignedURL)
	}
}

func TestFindEvidenceURI_NotFound(t *testing.T) {
	t.Parallel()

	tool := NewFindEvidenceURI(&mockLocator{}, testSigner())
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"user_id":"l.taylor"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(string(out), `"found":false`) {
		t.Errorf("output = %s, want found=false", out)
	}
}
