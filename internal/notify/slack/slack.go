// Package slack sends triage outcome notifications to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/warden/internal/workflow"
)

const (
	maxReasonLen = 3000
	httpTimeout  = 10 * time.Second
)

// Notifier sends terminal triage outcomes to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts a triage outcome to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, notif *workflow.Notification) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(notif)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(notif *workflow.Notification) map[string]any {
	blocks := []map[string]any{
		headerBlock(notif),
		{"type": "divider"},
		fieldsBlock(notif),
		{"type": "divider"},
		reasonBlock(notif),
	}
	if notif.HumanDecision != "" {
		blocks = append(blocks, humanBlock(notif))
	}
	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(notif))

	return map[string]any{"blocks": blocks}
}

func headerBlock(notif *workflow.Notification) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s: %s", outcomeEmoji(notif.Outcome), outcomeTitle(notif.Outcome), notif.UserID),
		},
	}
}

func fieldsBlock(notif *workflow.Notification) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*User:* %s", notif.UserID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Ticket:* %s", notif.TicketID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Threat score:* %.1f", notif.ThreatScore),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Outcome:* %s", notif.Outcome),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func reasonBlock(notif *workflow.Notification) map[string]any {
	text := truncate(notif.AgentReason, maxReasonLen)
	if text == "" {
		text = "_No reasoning recorded._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Agent reasoning*\n\n%s", text),
		},
	}
}

func humanBlock(notif *workflow.Notification) map[string]any {
	text := fmt.Sprintf("*Analyst decision:* %s", notif.HumanDecision)
	if notif.HumanComment != "" {
		text += "\n" + truncate(notif.HumanComment, maxReasonLen)
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(notif *workflow.Notification) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("warden • %s • %s", notif.TicketID, time.Now().UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func outcomeEmoji(outcome string) string {
	switch outcome {
	case workflow.OutcomeFalsePositive:
		return "\U0001f7e2" // green circle
	case workflow.OutcomeResolvedByHuman:
		return "\U0001f534" // red circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}

func outcomeTitle(outcome string) string {
	switch outcome {
	case workflow.OutcomeFalsePositive:
		return "False Positive"
	case workflow.OutcomeResolvedByHuman:
		return "Threat Reviewed"
	case workflow.OutcomeTimedOut:
		return "Escalation Timed Out"
	default:
		return "Triage Aborted"
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
