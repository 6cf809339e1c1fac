package investigate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/llm"
)

const noIPSummary = "No IP address present in the alert payload; external reputation check not applicable."

const ipRepSystem = `You are a threat intelligence analyst. Given a public IP
address observed in a security alert, summarize what is known about it:
hosting provider or residential ISP, geographic region, appearance on
blocklists or in threat feeds, association with VPN/proxy/Tor exit
infrastructure. Two or three sentences. If nothing notable is known, say so
plainly.`

const ipRepMaxTokens = 1024

var ipv4Re = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// IPReputation researches the reputation of public IPs found in an alert.
// It never fails the run: provider errors degrade into a summary line noting
// the check could not be completed.
type IPReputation struct {
	provider llm.Provider
	logger   log.Logger
}

func NewIPReputation(provider llm.Provider, logger log.Logger) *IPReputation {
	return &IPReputation{provider: provider, logger: logger}
}

// Describe reports what this node does.
func (g *IPReputation) Describe() string {
	return "ip-reputation: research each IPv4 address found in the alert payload"
}

// ExtractIPs returns the distinct IPv4 addresses present in raw alert text,
// in order of first appearance.
func ExtractIPs(raw string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ip := range ipv4Re.FindAllString(raw, -1) {
		if !seen[ip] {
			seen[ip] = true
			out = append(out, ip)
		}
	}
	return out
}

// Gather researches every IP in the alert and folds the results into one
// summary. Alerts with no IPs skip the provider entirely.
func (g *IPReputation) Gather(ctx context.Context, al *alert.Alert) Result {
	ctx, span := tracer.Start(ctx, "investigate.IPReputation")
	defer span.End()

	ips := ExtractIPs(al.Raw)
	if al.SourceIP != "" && ipv4Re.MatchString(al.SourceIP) {
		found := false
		for _, ip := range ips {
			if ip == al.SourceIP {
				found = true
				break
			}
		}
		if !found {
			ips = append([]string{al.SourceIP}, ips...)
		}
	}

	if len(ips) == 0 {
		return Result{Source: SourceIPReputation, Summary: noIPSummary}
	}

	var parts []string
	for _, ip := range ips {
		resp, err := g.provider.Send(ctx, &llm.Request{
			MaxTokens: ipRepMaxTokens,
			System:    ipRepSystem,
			Messages: []llm.Message{{
				Role:    "user",
				Content: []llm.ContentBlock{{Type: "text", Text: fmt.Sprintf("IP address: %s", ip)}},
			}},
		})
		if err != nil {
			g.logger.Warn(ctx, "ip reputation lookup degraded", "ip", ip, "error", err.Error())
			parts = append(parts, fmt.Sprintf("%s: reputation check could not be completed", ip))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", ip, strings.TrimSpace(resp.Text())))
	}

	return Result{
		Source:  SourceIPReputation,
		Summary: strings.Join(parts, "\n"),
	}
}
