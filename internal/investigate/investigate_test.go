package investigate

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/llm"
	"github.com/linnemanlabs/warden/internal/tools"
)

// mockProvider returns preconfigured responses in sequence.
type mockProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      []error
	requests  []*llm.Request
	callIdx   int
}

func (m *mockProvider) Send(_ context.Context, req *llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.callIdx
	m.callIdx++
	m.requests = append(m.requests, req)

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return &llm.Response{
		Content:    []llm.ContentBlock{{Type: "text", Text: "fallback"}},
		StopReason: llm.StopEnd,
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIdx
}

// mockTool returns preconfigured Execute results.
type mockTool struct {
	mu     sync.Mutex
	name   string
	output json.RawMessage
	err    error
	called int
}

func (m *mockTool) Name() string                { return m.name }
func (m *mockTool) Description() string         { return "mock tool" }
func (m *mockTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (m *mockTool) Execute(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	m.called++
	m.mu.Unlock()
	return m.output, m.err
}

func testAlert() *alert.Alert {
	return alert.Parse(`{"user_id":"u.lewis","device_id":"dev-31","source_ip":"203.0.113.77","total_2_min_threat_score":91.5}`)
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Content:    []llm.ContentBlock{{Type: "text", Text: text}},
		StopReason: llm.StopEnd,
		Usage:      llm.Usage{InputTokens: 100, OutputTokens: 50},
	}
}

func toolUseResponse(id, name string) *llm.Response {
	return &llm.Response{
		Content: []llm.ContentBlock{
			{Type: "tool_use", ID: id, Name: name, Input: json.RawMessage(`{}`)},
		},
		StopReason: llm.StopToolUse,
		Usage:      llm.Usage{InputTokens: 100, OutputTokens: 50},
	}
}

func TestExtractIPs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"none", "nothing to see here", nil},
		{"single", "login from 203.0.113.77 observed", []string{"203.0.113.77"}},
		{"dedup preserves order", "198.51.100.9 then 203.0.113.77 then 198.51.100.9 again",
			[]string{"198.51.100.9", "203.0.113.77"}},
		{"embedded in json", `{"source_ip":"192.0.2.14"}`, []string{"192.0.2.14"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractIPs(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractIPs(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestIPReputation_NoIPsSkipsProvider(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	g := NewIPReputation(provider, log.Nop())

	al := alert.Parse("user acting strangely, no network detail")
	res := g.Gather(context.Background(), al)

	if res.Source != SourceIPReputation {
		t.Errorf("Source = %q", res.Source)
	}
	if res.Summary != noIPSummary {
		t.Errorf("Summary = %q, want fixed no-IP summary", res.Summary)
	}
	if provider.calls() != 0 {
		t.Errorf("provider called %d times, want 0", provider.calls())
	}
}

func TestIPReputation_PerIPResearch(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*llm.Response{
		textResponse("Known Tor exit node, widely blocklisted."),
	}}
	g := NewIPReputation(provider, log.Nop())

	res := g.Gather(context.Background(), testAlert())

	if provider.calls() != 1 {
		t.Fatalf("provider called %d times, want 1", provider.calls())
	}
	if !strings.Contains(res.Summary, "203.0.113.77") {
		t.Errorf("summary missing IP: %q", res.Summary)
	}
	if !strings.Contains(res.Summary, "Tor exit node") {
		t.Errorf("summary missing research text: %q", res.Summary)
	}
}

func TestIPReputation_ProviderFailureDegrades(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{errs: []error{errors.New("rate limited")}}
	g := NewIPReputation(provider, log.Nop())

	res := g.Gather(context.Background(), testAlert())
	if !strings.Contains(res.Summary, "could not be completed") {
		t.Errorf("summary = %q, want degraded line", res.Summary)
	}
}

func TestBehavioral_ToolLoopThenFindings(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*llm.Response{
		toolUseResponse("toolu_1", "query_behavior_profile"),
		textResponse(`{"summary":"47 login failures from a single residential IP, python-requests user agent throughout.","evidence_uri":"gs://evidence/u.lewis/capture.png"}`),
	}}

	registry := tools.NewRegistry()
	profileTool := &mockTool{name: "query_behavior_profile", output: json.RawMessage(`{"profile":{"total_login_failures_24h":47}}`)}
	registry.Register(profileTool)

	g := NewBehavioral(provider, registry, log.Nop())
	res, err := g.Gather(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	if profileTool.called != 1 {
		t.Errorf("tool called %d times, want 1", profileTool.called)
	}
	if res.Source != SourceBehavioral {
		t.Errorf("Source = %q", res.Source)
	}
	if !strings.Contains(res.Summary, "47 login failures") {
		t.Errorf("Summary = %q", res.Summary)
	}
	if res.EvidenceURI != "gs://evidence/u.lewis/capture.png" {
		t.Errorf("EvidenceURI = %q", res.EvidenceURI)
	}

	// second call must carry the tool result back to the model
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "user" || last.Content[0].Type != "tool_result" {
		t.Errorf("second request does not carry tool result: %+v", last)
	}
	if last.Content[0].ToolUseID != "toolu_1" {
		t.Errorf("tool_use_id = %q", last.Content[0].ToolUseID)
	}
}

func TestBehavioral_FencedFindingsAccepted(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*llm.Response{
		textResponse("```json\n{\"summary\":\"nothing anomalous\",\"evidence_uri\":\"\"}\n```"),
	}}
	g := NewBehavioral(provider, tools.NewRegistry(), log.Nop())

	res, err := g.Gather(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if res.Summary != "nothing anomalous" {
		t.Errorf("Summary = %q", res.Summary)
	}
}

func TestBehavioral_NonStoreEvidenceURIDropped(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*llm.Response{
		textResponse(`{"summary":"ok","evidence_uri":"javascript:alert(1)"}`),
	}}
	g := NewBehavioral(provider, tools.NewRegistry(), log.Nop())

	res, err := g.Gather(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if res.EvidenceURI != "" {
		t.Errorf("EvidenceURI = %q, want non-store reference dropped", res.EvidenceURI)
	}
	if res.Summary != "ok" {
		t.Errorf("Summary = %q", res.Summary)
	}
}

func TestBehavioral_UnexpectedStopReasonFails(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*llm.Response{
		{
			Content:    []llm.ContentBlock{{Type: "text", Text: "partial output cut"}},
			StopReason: "max_tokens",
			Usage:      llm.Usage{InputTokens: 100, OutputTokens: 4096},
		},
	}}
	g := NewBehavioral(provider, tools.NewRegistry(), log.Nop())

	_, err := g.Gather(context.Background(), testAlert())
	if err == nil {
		t.Fatal("expected error for truncated response")
	}
	if !strings.Contains(err.Error(), "max_tokens") {
		t.Errorf("error = %v, want stop reason named", err)
	}
	if provider.calls() != 1 {
		t.Errorf("provider called %d times, want 1 (no retry on truncation)", provider.calls())
	}
}

func TestBehavioral_MalformedFindingsFails(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*llm.Response{
		textResponse("The user looks suspicious to me."),
	}}
	g := NewBehavioral(provider, tools.NewRegistry(), log.Nop())

	_, err := g.Gather(context.Background(), testAlert())
	if err == nil {
		t.Fatal("expected error for non-JSON findings")
	}
	if !strings.Contains(err.Error(), "investigation incomplete") {
		t.Errorf("error = %v", err)
	}
}

func TestBehavioral_ProviderErrorFails(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{errs: []error{errors.New("api unavailable")}}
	g := NewBehavioral(provider, tools.NewRegistry(), log.Nop())

	_, err := g.Gather(context.Background(), testAlert())
	if err == nil || !strings.Contains(err.Error(), "api unavailable") {
		t.Errorf("error = %v, want wrapped provider error", err)
	}
}

func TestBehavioral_ToolBudget(t *testing.T) {
	t.Parallel()

	// provider that always asks for another tool call
	var responses []*llm.Response
	for i := 0; i < MaxToolRounds+2; i++ {
		responses = append(responses, toolUseResponse("toolu_x", "query_behavior_profile"))
	}
	provider := &mockProvider{responses: responses}

	registry := tools.NewRegistry()
	registry.Register(&mockTool{name: "query_behavior_profile", output: json.RawMessage(`{}`)})

	g := NewBehavioral(provider, registry, log.Nop())
	_, err := g.Gather(context.Background(), testAlert())
	if err == nil || !strings.Contains(err.Error(), "tool call budget") {
		t.Errorf("error = %v, want tool budget exhaustion", err)
	}
}

func TestBehavioral_UnknownToolReportedAsError(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*llm.Response{
		toolUseResponse("toolu_1", "no_such_tool"),
		textResponse(`{"summary":"done without the tool","evidence_uri":""}`),
	}}
	g := NewBehavioral(provider, tools.NewRegistry(), log.Nop())

	_, err := g.Gather(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !last.Content[0].IsError {
		t.Error("unknown tool result not flagged as error")
	}
}

func TestRunner_ParallelJoin(t *testing.T) {
	t.Parallel()

	ipProvider := &mockProvider{responses: []*llm.Response{textResponse("clean ISP address")}}
	bProvider := &mockProvider{responses: []*llm.Response{
		textResponse(`{"summary":"baseline activity","evidence_uri":""}`),
	}}

	runner := NewRunner(
		NewIPReputation(ipProvider, log.Nop()),
		NewBehavioral(bProvider, tools.NewRegistry(), log.Nop()),
		log.Nop(),
	)

	findings := runner.Run(context.Background(), testAlert())

	if findings.IPReputation.Summary == "" {
		t.Error("ip reputation summary empty")
	}
	if findings.Behavioral == nil {
		t.Fatal("behavioral findings missing")
	}
	if findings.Behavioral.Summary != "baseline activity" {
		t.Errorf("behavioral summary = %q", findings.Behavioral.Summary)
	}
}

func TestRunner_BehavioralFailureYieldsNil(t *testing.T) {
	t.Parallel()

	ipProvider := &mockProvider{responses: []*llm.Response{textResponse("clean")}}
	bProvider := &mockProvider{errs: []error{errors.New("down")}}

	runner := NewRunner(
		NewIPReputation(ipProvider, log.Nop()),
		NewBehavioral(bProvider, tools.NewRegistry(), log.Nop()),
		log.Nop(),
	)

	findings := runner.Run(context.Background(), testAlert())
	if findings.Behavioral != nil {
		t.Errorf("Behavioral = %+v, want nil on failure", findings.Behavioral)
	}
	if findings.IPReputation.Summary == "" {
		t.Error("ip reputation should still produce a summary")
	}
}

func TestRunner_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	ipProvider := &mockProvider{responses: []*llm.Response{textResponse("clean ISP address")}}
	bProvider := &mockProvider{responses: []*llm.Response{
		textResponse(`{"summary":"baseline activity","evidence_uri":""}`),
	}}

	runner := NewRunner(
		NewIPReputation(ipProvider, log.Nop()),
		NewBehavioral(bProvider, tools.NewRegistry(), log.Nop()),
		log.Nop(),
	)
	runner.Run(context.Background(), testAlert())

	spans := exporter.GetSpans()
	want := map[string]bool{
		"investigate.Run":          false,
		"investigate.IPReputation": false,
		"investigate.Behavioral":   false,
	}
	for _, s := range spans {
		if _, ok := want[s.Name]; ok {
			want[s.Name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("span %q not recorded (got %d spans)", name, len(spans))
		}
	}
}
