// Package warehouse is the "run SQL, get rows" capability behind the
// behavioral investigation. All statements pass a pre-execution guard that
// blocks destructive DML; the investigation is strictly read-only.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrForbiddenStatement is returned for statements whose leading keyword is
// destructive DML.
var ErrForbiddenStatement = errors.New("warehouse: destructive DML statement blocked")

// Runner executes a read query and returns rows as column-name keyed maps.
type Runner interface {
	RunQuery(ctx context.Context, sql string) ([]map[string]any, error)
}

// EvidenceLocator finds the object-store URI of visual evidence associated
// with a user, or "" when none exists.
type EvidenceLocator interface {
	FindEvidenceURI(ctx context.Context, userID string) (string, error)
}

var forbiddenRe = regexp.MustCompile(`^(UPDATE|DELETE|MERGE|TRUNCATE)\b`)

// GuardStatement rejects statements whose leading keyword (case-insensitive,
// leading whitespace ignored) is UPDATE, DELETE, MERGE, or TRUNCATE. Column
// or table names containing those words deeper in the statement are fine.
func GuardStatement(sql string) error {
	normalized := strings.ToUpper(strings.TrimSpace(sql))
	if forbiddenRe.MatchString(normalized) {
		return fmt.Errorf("%w: %s", ErrForbiddenStatement, forbiddenRe.FindString(normalized))
	}
	return nil
}

// identRe keeps the leading safe run of an identifier before it is inlined
// into generated SQL.
var identRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+`)

func sanitizeIdent(id string) string {
	m := identRe.FindString(id)
	if m == "" {
		return "unknown"
	}
	return m
}

// ProfileQuery builds the 24-hour behavioral profile query for an entity:
// access metrics and network metrics joined across the entity's flagged
// sessions. The entity id is sanitized before inlining.
func ProfileQuery(entityID string) string {
	id := sanitizeIdent(entityID)
	return fmt.Sprintf(`WITH flagged_sessions AS (
    SELECT DISTINCT assigned_internal_ip
    FROM user_access_events
    WHERE event_timestamp >= now() - interval '24 hours'
      AND event_type = 'login_success'
      AND user_id = '%[1]s'
),
access_metrics AS (
    SELECT
        count(*) AS total_access_events_24h,
        count(*) FILTER (WHERE event_type = 'login_failure') AS total_login_failures_24h,
        count(DISTINCT source_ip) AS distinct_public_source_ips_24h,
        count(*) FILTER (WHERE user_agent ~ '^(python-requests|curl|Go-http-client)') AS suspicious_user_agent_logins_24h,
        count(DISTINCT user_agent) AS distinct_user_agents_used_24h
    FROM user_access_events
    WHERE event_timestamp >= now() - interval '24 hours'
      AND user_id = '%[1]s'
),
network_metrics AS (
    SELECT
        count(*) AS total_network_events_24h,
        count(*) FILTER (WHERE permission_level_requested IN ('root', 'admin')) AS high_privilege_requests_24h,
        count(*) FILTER (WHERE file_type IN ('exe', 'dll', 'ps1', 'bat', 'vbs')) AS risky_file_transfers_24h,
        count(*) FILTER (WHERE command_line ~* '(powershell -enc|IEX|DownloadString|mimikatz|payload)') AS malicious_commands_24h,
        count(*) FILTER (WHERE network_domain ~ '(\.ru|\.xyz|bad-domain|payload-downloader|c2-server)') AS malicious_dns_queries_24h,
        count(DISTINCT destination_ip) AS distinct_destination_ips_24h,
        count(DISTINCT file_hash_sha256) AS distinct_files_transferred_24h
    FROM network_events
    WHERE event_timestamp >= now() - interval '24 hours'
      AND (user_id = '%[1]s'
           OR source_ip IN (SELECT assigned_internal_ip FROM flagged_sessions))
)
SELECT * FROM access_metrics CROSS JOIN network_metrics`, id)
}

// EvidenceURIQuery builds the lookup for a screenshot associated with a
// user's recent high-risk activity.
func EvidenceURIQuery(userID string) string {
	id := sanitizeIdent(userID)
	return fmt.Sprintf(`SELECT s.gcs_uri
FROM user_access_events AS e
JOIN user_screenshots AS s ON e.user_id = s.user_id
WHERE e.user_id = '%s'
LIMIT 1`, id)
}
