package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config holds the service-level configuration filled from flags and
// WARDEN_-prefixed environment variables.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ClaudeAPIKey          string
	ClaudeModel           string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	MailboxPrefix         string
	PollIntervalSeconds   int
	EscalationTimeoutSecs int
	SlackWebhookURL       string
	APIToken              string
	SignSecret            string
	EvidenceBaseURL       string
	SignTTLMinutes        int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the event warehouse and audit sink (empty = in-memory audit, no warehouse tools)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for the escalation mailbox and sessions (empty = in-memory)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "Redis logical database")
	fs.StringVar(&c.MailboxPrefix, "mailbox-prefix", "warden:mailbox", "key prefix for escalation mailbox objects")
	fs.IntVar(&c.PollIntervalSeconds, "poll-interval-seconds", 2, "seconds between mailbox polls while awaiting a human response")
	fs.IntVar(&c.EscalationTimeoutSecs, "escalation-timeout-seconds", 300, "seconds to wait for a human response before resolving by timeout")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for outcome notifications")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token guarding the write endpoints (empty = no auth, dev only)")
	fs.StringVar(&c.SignSecret, "sign-secret", "", "HMAC secret for signed evidence links")
	fs.StringVar(&c.EvidenceBaseURL, "evidence-base-url", "http://localhost:8080/evidence", "externally reachable base URL of the evidence endpoint")
	fs.IntVar(&c.SignTTLMinutes, "sign-ttl-minutes", 15, "validity window of signed evidence links in minutes")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Claude access is required for the investigation and decision steps
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.PollIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid POLL_INTERVAL_SECONDS %d (must be positive)", c.PollIntervalSeconds))
	}
	if c.EscalationTimeoutSecs <= 0 {
		errs = append(errs, fmt.Errorf("invalid ESCALATION_TIMEOUT_SECONDS %d (must be positive)", c.EscalationTimeoutSecs))
	}
	if c.EscalationTimeoutSecs <= c.PollIntervalSeconds {
		errs = append(errs, fmt.Errorf("ESCALATION_TIMEOUT_SECONDS %d must be greater than POLL_INTERVAL_SECONDS %d", c.EscalationTimeoutSecs, c.PollIntervalSeconds))
	}

	if c.SignSecret == "" {
		errs = append(errs, errors.New("SIGN_SECRET is required"))
	}
	if c.SignTTLMinutes <= 0 {
		errs = append(errs, fmt.Errorf("invalid SIGN_TTL_MINUTES %d (must be positive)", c.SignTTLMinutes))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
