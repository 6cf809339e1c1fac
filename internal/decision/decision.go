// Package decision is the gate between evidence gathering and disposition:
// it weighs both investigation lines and produces a verdict. Every path that
// cannot produce a confident FALSE_POSITIVE fails closed to escalation.
package decision

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/investigate"
	"github.com/linnemanlabs/warden/internal/llm"
	"github.com/linnemanlabs/warden/internal/signurl"
	"github.com/linnemanlabs/warden/internal/ticket"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/decision")

// Verdict is the gate's disposition for an alert.
type Verdict string

const (
	VerdictEscalate      Verdict = "ESCALATE"
	VerdictFalsePositive Verdict = "FALSE_POSITIVE"
)

// Outcome is the full result of the decision step. Report is the
// human-readable case file that escalation hands to the analyst.
type Outcome struct {
	TicketID ticket.ID
	Verdict  Verdict
	Reason   string
	Report   string
}

const decideMaxTokens = 4096

const decideSystem = `You are the final decision gate of a security triage
pipeline. You receive the findings of two independent investigations into a
flagged alert. Decide whether this is a FALSE_POSITIVE (benign, explained by
normal activity) or must be ESCALATEd to a human analyst.

Your first line MUST be exactly one of:
VERDICT: ESCALATE
VERDICT: FALSE_POSITIVE

Then explain your reasoning in two or three sentences. Escalate whenever the
evidence is ambiguous; a wrong FALSE_POSITIVE is far more costly than an
unnecessary escalation.`

var verdictRe = regexp.MustCompile(`(?m)^\s*VERDICT:\s*(ESCALATE|FALSE_POSITIVE)\b`)

// Gate produces verdicts. It mints the case ticket itself so ids are never
// taken from alert text.
type Gate struct {
	provider llm.Provider
	signer   *signurl.Signer
	logger   log.Logger
}

func NewGate(provider llm.Provider, signer *signurl.Signer, logger log.Logger) *Gate {
	return &Gate{provider: provider, signer: signer, logger: logger}
}

// Describe reports what this node does.
func (g *Gate) Describe() string {
	return "decision gate: map findings to FALSE_POSITIVE or ESCALATE, escalating on any ambiguity"
}

// Decide weighs the findings and returns a verdict with a fresh ticket.
// It never returns an error: any failure in the decision step itself is
// grounds for escalation, not for dropping the alert.
func (g *Gate) Decide(ctx context.Context, al *alert.Alert, findings investigate.Findings) Outcome {
	ctx, span := tracer.Start(ctx, "decision.Decide")
	defer span.End()

	tid := ticket.New(al.UserID)
	span.SetAttributes(attribute.String("ticket_id", string(tid)))

	evidenceLink := g.evidenceLink(ctx, findings)
	report := buildReport(al, findings, evidenceLink)

	if findings.Behavioral == nil {
		span.SetAttributes(attribute.String("verdict", string(VerdictEscalate)))
		return Outcome{
			TicketID: tid,
			Verdict:  VerdictEscalate,
			Reason:   "Behavioral investigation did not complete; escalating on partial evidence.",
			Report:   report,
		}
	}

	resp, err := g.provider.Send(ctx, &llm.Request{
		MaxTokens: decideMaxTokens,
		System:    decideSystem,
		Messages: []llm.Message{{
			Role:    "user",
			Content: []llm.ContentBlock{{Type: "text", Text: buildDecidePrompt(al, findings)}},
		}},
	})
	if err != nil {
		g.logger.Error(ctx, err, "decision call failed, escalating", "ticket_id", tid)
		span.SetAttributes(attribute.String("verdict", string(VerdictEscalate)))
		return Outcome{
			TicketID: tid,
			Verdict:  VerdictEscalate,
			Reason:   "Decision step failed; escalating on available evidence.",
			Report:   report,
		}
	}

	verdict, reason := parseVerdict(resp.Text())
	span.SetAttributes(attribute.String("verdict", string(verdict)))

	return Outcome{
		TicketID: tid,
		Verdict:  verdict,
		Reason:   reason,
		Report:   report,
	}
}

// parseVerdict extracts the verdict line and the reasoning that follows.
// A missing or unrecognized verdict line defaults to escalation.
func parseVerdict(text string) (Verdict, string) {
	m := verdictRe.FindStringSubmatchIndex(text)
	if m == nil {
		return VerdictEscalate, strings.TrimSpace(text)
	}

	verdict := Verdict(text[m[2]:m[3]])
	reason := strings.TrimSpace(text[m[1]:])
	if reason == "" {
		reason = "No reasoning provided."
	}
	return verdict, reason
}

func (g *Gate) evidenceLink(ctx context.Context, findings investigate.Findings) string {
	if findings.Behavioral == nil || findings.Behavioral.EvidenceURI == "" {
		return ""
	}
	link, err := g.signer.Sign(findings.Behavioral.EvidenceURI)
	if err != nil {
		g.logger.Warn(ctx, "evidence link signing failed",
			"uri", findings.Behavioral.EvidenceURI,
			"error", err.Error(),
		)
		return ""
	}
	return link
}

func buildDecidePrompt(al *alert.Alert, findings investigate.Findings) string {
	return fmt.Sprintf(`Alert under review:
User: %s
Device: %s
Source IP: %s
Threat score: %.1f

Behavioral investigation findings:
%s

External IP reputation findings:
%s

Decide.`,
		al.UserID, al.DeviceID, al.SourceIP, al.ThreatScore,
		findings.Behavioral.Summary,
		findings.IPReputation.Summary,
	)
}

// buildReport renders the case file handed to the escalation mailbox. It is
// written for the analyst, not the model.
func buildReport(al *alert.Alert, findings investigate.Findings, evidenceLink string) string {
	var b strings.Builder

	b.WriteString("## Alert Overview\n\n")
	fmt.Fprintf(&b, "- **User:** %s\n", al.UserID)
	fmt.Fprintf(&b, "- **Device:** %s\n", orNone(al.DeviceID))
	fmt.Fprintf(&b, "- **Source IP:** %s\n", orNone(al.SourceIP))
	fmt.Fprintf(&b, "- **Threat score:** %.1f\n", al.ThreatScore)
	if !al.WindowEnd.IsZero() {
		fmt.Fprintf(&b, "- **Window end:** %s\n", al.WindowEnd.Format(time.RFC3339))
	}

	b.WriteString("\n## Key Findings\n\n")
	if findings.Behavioral != nil {
		b.WriteString(findings.Behavioral.Summary)
		b.WriteString("\n")
	} else {
		b.WriteString("Behavioral investigation did not complete. Treat this case as unverified.\n")
	}

	b.WriteString("\n## Visual Analysis\n\n")
	if evidenceLink != "" {
		fmt.Fprintf(&b, "Screenshot evidence: %s\n", evidenceLink)
	} else if findings.Behavioral != nil && findings.Behavioral.EvidenceURI != "" {
		b.WriteString("Screenshot evidence exists but a viewing link could not be generated.\n")
	} else {
		b.WriteString("No visual evidence associated with this case.\n")
	}

	b.WriteString("\n## External Intelligence\n\n")
	b.WriteString(findings.IPReputation.Summary)
	b.WriteString("\n")

	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
