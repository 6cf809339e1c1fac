package investigate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/llm"
	"github.com/linnemanlabs/warden/internal/tools"
)

const (
	MaxToolRounds  = 15
	MaxTokens      = 50000
	ResponseTokens = 4096
)

const behavioralSystem = `You are a security analyst investigating a flagged
user's recent behavior against the security event warehouse.

Use the tools to build a factual picture of the last 24 hours: login
failures, distinct source IPs, suspicious user agents, privilege requests,
file transfers, command lines, DNS queries. Start with
query_behavior_profile, drill into raw events with execute_sql only if the
profile warrants it, and check find_evidence_uri for visual evidence. When
find_evidence_uri returns a signed_url, pass that signed_url to
analyze_screenshot; the evidence_uri itself goes in your findings.

When you are done, respond with ONLY a JSON object, no prose around it:
{"summary": "<your factual findings>", "evidence_uri": "<gs:// uri or empty string>"}`

// Behavioral drives the tool-use investigation loop against the event
// warehouse. Unlike the IP reputation line, it fails loudly: a run that
// exhausts its budget or returns malformed findings is an error, and the
// caller escalates.
type Behavioral struct {
	provider llm.Provider
	registry *tools.Registry
	logger   log.Logger
}

func NewBehavioral(provider llm.Provider, registry *tools.Registry, logger log.Logger) *Behavioral {
	return &Behavioral{provider: provider, registry: registry, logger: logger}
}

// Describe reports what this node does.
func (g *Behavioral) Describe() string {
	names := make([]string, 0)
	for _, d := range g.registry.ToToolDefs() {
		names = append(names, d.Name)
	}
	return "behavioral: tool-driven warehouse investigation (tools: " + strings.Join(names, ", ") + ")"
}

// Gather runs the investigation loop until the model produces findings or a
// budget trips.
func (g *Behavioral) Gather(ctx context.Context, al *alert.Alert) (Result, error) {
	ctx, span := tracer.Start(ctx, "investigate.Behavioral")
	defer span.End()

	start := time.Now()
	L := g.logger.With("user_id", al.UserID)

	messages := []llm.Message{
		{Role: "user", Content: []llm.ContentBlock{
			{Type: "text", Text: buildBehavioralPrompt(al)},
		}},
	}

	var totalTokens int
	var totalToolCalls int

	for {
		if totalToolCalls >= MaxToolRounds {
			return Result{}, fmt.Errorf("investigation incomplete: tool call budget exhausted after %d calls", totalToolCalls)
		}
		if totalTokens >= MaxTokens {
			return Result{}, fmt.Errorf("investigation incomplete: token budget exhausted at %d tokens", totalTokens)
		}

		resp, err := g.provider.Send(ctx, &llm.Request{
			MaxTokens: ResponseTokens,
			System:    behavioralSystem,
			Messages:  messages,
			Tools:     g.registry.ToToolDefs(),
		})
		if err != nil {
			return Result{}, fmt.Errorf("investigation incomplete: %w", err)
		}

		totalTokens += resp.Usage.InputTokens + resp.Usage.OutputTokens

		messages = append(messages, llm.Message{
			Role:    "assistant",
			Content: resp.Content,
		})

		switch resp.StopReason {
		case llm.StopEnd:
			result, err := parseFindings(resp.Text())
			if err != nil {
				return Result{}, err
			}
			L.Info(ctx, "behavioral investigation complete",
				"duration", time.Since(start).Seconds(),
				"tokens", totalTokens,
				"tool_calls", totalToolCalls,
			)
			return result, nil

		case llm.StopToolUse:
			var toolResults []llm.ContentBlock

			for _, block := range resp.Content {
				if block.Type != "tool_use" {
					continue
				}

				totalToolCalls++
				L.Info(ctx, "executing tool",
					"tool", block.Name,
					"call_number", totalToolCalls,
				)

				tool, ok := g.registry.Get(block.Name)
				if !ok {
					toolResults = append(toolResults, llm.ContentBlock{
						Type:      "tool_result",
						ToolUseID: block.ID,
						Content:   fmt.Sprintf("unknown tool: %s", block.Name),
						IsError:   true,
					})
					continue
				}

				output, err := tool.Execute(ctx, block.Input)
				if err != nil {
					L.Error(ctx, err, "tool execution failed", "tool", block.Name)
					toolResults = append(toolResults, llm.ContentBlock{
						Type:      "tool_result",
						ToolUseID: block.ID,
						Content:   fmt.Sprintf("tool error: %v", err),
						IsError:   true,
					})
					continue
				}

				toolResults = append(toolResults, llm.ContentBlock{
					Type:      "tool_result",
					ToolUseID: block.ID,
					Content:   string(output),
				})
			}

			messages = append(messages, llm.Message{
				Role:    "user",
				Content: toolResults,
			})

		default:
			// max_tokens, refusal, anything unexpected: re-sending the same
			// conversation would just loop until the token budget trips.
			return Result{}, fmt.Errorf("investigation incomplete: unexpected stop reason %q", resp.StopReason)
		}
	}
}

// parseFindings enforces the two-field contract on the model's final answer.
// Tolerates a fenced code block around the JSON, nothing more. An
// evidence_uri outside the object-store scheme is dropped rather than
// carried forward: everything downstream (the report's signed link in
// particular) trusts this field to reference real evidence.
func parseFindings(text string) (Result, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var findings struct {
		Summary     string `json:"summary"`
		EvidenceURI string `json:"evidence_uri"`
	}
	if err := json.Unmarshal([]byte(trimmed), &findings); err != nil {
		return Result{}, fmt.Errorf("investigation incomplete: malformed findings: %w", err)
	}
	if findings.Summary == "" {
		return Result{}, fmt.Errorf("investigation incomplete: findings missing summary")
	}
	if findings.EvidenceURI != "" && !strings.HasPrefix(findings.EvidenceURI, "gs://") {
		findings.EvidenceURI = ""
	}

	return Result{
		Source:      SourceBehavioral,
		Summary:     findings.Summary,
		EvidenceURI: findings.EvidenceURI,
	}, nil
}

func buildBehavioralPrompt(al *alert.Alert) string {
	return fmt.Sprintf(`A threat detection pipeline flagged this activity window:

User: %s
Device: %s
Source IP: %s
Threat score: %.1f
Window end: %s

Raw alert:
%s

Investigate this user's behavior over the last 24 hours and report your findings.`,
		al.UserID,
		al.DeviceID,
		al.SourceIP,
		al.ThreatScore,
		al.WindowEnd.Format(time.RFC3339),
		al.Raw,
	)
}
