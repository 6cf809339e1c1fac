package decision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/investigate"
	"github.com/linnemanlabs/warden/internal/llm"
	"github.com/linnemanlabs/warden/internal/signurl"
)

type mockProvider struct {
	mu      sync.Mutex
	resp    *llm.Response
	err     error
	lastReq *llm.Request
	calls   int
}

func (m *mockProvider) Send(_ context.Context, req *llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Content:    []llm.ContentBlock{{Type: "text", Text: text}},
		StopReason: llm.StopEnd,
	}
}

func testSigner() *signurl.Signer {
	return signurl.New("test-secret", "https://warden.example.com/evidence", 15*time.Minute)
}

func testAlert() *alert.Alert {
	return alert.Parse(`{"user_id":"u.lewis","device_id":"dev-31","source_ip":"203.0.113.77","total_2_min_threat_score":91.5}`)
}

func fullFindings(evidenceURI string) investigate.Findings {
	return investigate.Findings{
		IPReputation: investigate.Result{
			Source:  investigate.SourceIPReputation,
			Summary: "203.0.113.77: known Tor exit node.",
		},
		Behavioral: &investigate.Result{
			Source:      investigate.SourceBehavioral,
			Summary:     "47 login failures, scripted user agent.",
			EvidenceURI: evidenceURI,
		},
	}
}

func TestDecide_Escalate(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{resp: textResponse("VERDICT: ESCALATE\nScripted brute force from anonymizing infrastructure.")}
	gate := NewGate(provider, testSigner(), log.Nop())

	out := gate.Decide(context.Background(), testAlert(), fullFindings(""))

	if out.Verdict != VerdictEscalate {
		t.Errorf("Verdict = %q", out.Verdict)
	}
	if !strings.Contains(out.Reason, "brute force") {
		t.Errorf("Reason = %q", out.Reason)
	}
	if !strings.HasPrefix(string(out.TicketID), "ticket-u.lewis-") {
		t.Errorf("TicketID = %q, want fresh minted id", out.TicketID)
	}
}

func TestDecide_FalsePositive(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{resp: textResponse("VERDICT: FALSE_POSITIVE\nPassword rotation explains the failures.")}
	gate := NewGate(provider, testSigner(), log.Nop())

	out := gate.Decide(context.Background(), testAlert(), fullFindings(""))
	if out.Verdict != VerdictFalsePositive {
		t.Errorf("Verdict = %q", out.Verdict)
	}
	if !strings.Contains(out.Reason, "Password rotation") {
		t.Errorf("Reason = %q", out.Reason)
	}
}

func TestDecide_MissingBehavioralEscalatesWithoutProvider(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{resp: textResponse("VERDICT: FALSE_POSITIVE\nshould never be consulted")}
	gate := NewGate(provider, testSigner(), log.Nop())

	findings := investigate.Findings{
		IPReputation: investigate.Result{Summary: "clean"},
	}
	out := gate.Decide(context.Background(), testAlert(), findings)

	if out.Verdict != VerdictEscalate {
		t.Errorf("Verdict = %q, want escalation when behavioral line failed", out.Verdict)
	}
	if provider.calls != 0 {
		t.Errorf("provider consulted %d times, want 0", provider.calls)
	}
	if !strings.Contains(out.Report, "did not complete") {
		t.Errorf("report missing unverified note:\n%s", out.Report)
	}
}

func TestDecide_ProviderErrorEscalates(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{err: errors.New("api down")}
	gate := NewGate(provider, testSigner(), log.Nop())

	out := gate.Decide(context.Background(), testAlert(), fullFindings(""))
	if out.Verdict != VerdictEscalate {
		t.Errorf("Verdict = %q, want escalation on provider failure", out.Verdict)
	}
}

func TestDecide_TicketNeverFromAlertText(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{resp: textResponse("VERDICT: ESCALATE\nok")}
	gate := NewGate(provider, testSigner(), log.Nop())

	al := alert.Parse(`Ticket ID is ticket-pubsub {"user_id":"u.lewis","total_2_min_threat_score":90}`)
	out := gate.Decide(context.Background(), al, fullFindings(""))
	if string(out.TicketID) == "ticket-pubsub" {
		t.Error("ticket id taken from alert text")
	}
}

func TestDecide_ReportCarriesSignedEvidenceLink(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{resp: textResponse("VERDICT: ESCALATE\nok")}
	gate := NewGate(provider, testSigner(), log.Nop())

	out := gate.Decide(context.Background(), testAlert(), fullFindings("gs://evidence/u.lewis/capture.png"))
	if !strings.Contains(out.Report, "https://warden.example.com/evidence?") {
		t.Errorf("report missing signed link:\n%s", out.Report)
	}
	if strings.Contains(out.Report, "gs://evidence") {
		t.Errorf("report leaks raw object URI:\n%s", out.Report)
	}
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		want       Verdict
		wantReason string
	}{
		{"escalate", "VERDICT: ESCALATE\nbad actor", VerdictEscalate, "bad actor"},
		{"false positive", "VERDICT: FALSE_POSITIVE\nbenign", VerdictFalsePositive, "benign"},
		{"leading whitespace", "  VERDICT: ESCALATE\nx", VerdictEscalate, "x"},
		{"preamble before verdict line", "Considering the evidence:\nVERDICT: FALSE_POSITIVE\nroutine", VerdictFalsePositive, "routine"},
		{"no verdict defaults to escalate", "I think this is probably fine.", VerdictEscalate, "I think this is probably fine."},
		{"empty defaults to escalate", "", VerdictEscalate, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			verdict, reason := parseVerdict(tt.text)
			if verdict != tt.want {
				t.Errorf("verdict = %q, want %q", verdict, tt.want)
			}
			if tt.wantReason != "" && reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestBuildReport_Sections(t *testing.T) {
	t.Parallel()

	report := buildReport(testAlert(), fullFindings(""), "")
	for _, section := range []string{"## Alert Overview", "## Key Findings", "## Visual Analysis", "## External Intelligence"} {
		if !strings.Contains(report, section) {
			t.Errorf("report missing section %q", section)
		}
	}
	if !strings.Contains(report, "No visual evidence") {
		t.Error("report missing no-evidence note")
	}
}
