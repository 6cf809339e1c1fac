// Package investigate runs the evidence-gathering phase of a triage: two
// independent lines of investigation executed in parallel against the same
// alert. The IP reputation line degrades to prose on failure; the behavioral
// line reports failure explicitly so the decision gate can fail closed.
package investigate

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/alert"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/investigate")

const (
	SourceIPReputation = "ip-reputation"
	SourceBehavioral   = "behavioral"
)

// Result is the output of one line of investigation.
type Result struct {
	Source      string `json:"source"`
	Summary     string `json:"summary"`
	EvidenceURI string `json:"evidence_uri,omitempty"`
}

// Findings is the combined output of a full evidence-gathering run.
// Behavioral is nil when that line of investigation failed; the decision
// gate treats that as grounds for escalation.
type Findings struct {
	IPReputation Result
	Behavioral   *Result
}

// Runner fans an alert out to both gatherers and joins their results.
type Runner struct {
	ipRep      *IPReputation
	behavioral *Behavioral
	logger     log.Logger
}

func NewRunner(ipRep *IPReputation, behavioral *Behavioral, logger log.Logger) *Runner {
	return &Runner{ipRep: ipRep, behavioral: behavioral, logger: logger}
}

// Describe reports what this node does, including its children.
func (r *Runner) Describe() string {
	return "parallel investigation: [" + r.ipRep.Describe() + "; " + r.behavioral.Describe() + "]"
}

// Run executes both investigation lines concurrently and waits for both.
// It never returns an error: the IP reputation line always produces a
// summary, and a behavioral failure is reported as a nil Behavioral.
func (r *Runner) Run(ctx context.Context, al *alert.Alert) Findings {
	ctx, span := tracer.Start(ctx, "investigate.Run")
	defer span.End()
	span.SetAttributes(attribute.String("alert.user_id", al.UserID))

	var (
		wg       sync.WaitGroup
		ipResult Result
		bResult  Result
		bErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		ipResult = r.ipRep.Gather(ctx, al)
	}()
	go func() {
		defer wg.Done()
		bResult, bErr = r.behavioral.Gather(ctx, al)
	}()
	wg.Wait()

	findings := Findings{IPReputation: ipResult}
	if bErr != nil {
		r.logger.Error(ctx, bErr, "behavioral investigation failed",
			"user_id", al.UserID,
		)
		span.SetAttributes(attribute.Bool("behavioral.failed", true))
		return findings
	}
	findings.Behavioral = &bResult
	return findings
}
