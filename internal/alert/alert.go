// Package alert parses inbound security alerts into the canonical record the
// triage workflow operates on. Payloads arrive from stateless triggers and
// may be wrapped in narrative framing text; parsing is tolerant by design and
// never fails an alert outright.
package alert

import (
	"encoding/json"
	"time"
)

// UnknownUser is the sentinel stored when no user id can be derived from the
// payload. Persisted audit rows never carry an empty user id.
const UnknownUser = "unknown"

// Alert is the canonical, immutable alert record. Raw retains the original
// payload verbatim for the audit trail.
type Alert struct {
	WindowEnd   time.Time
	UserID      string
	DeviceID    string
	SourceIP    string
	ThreatScore float64
	Raw         string
}

// payload accepts both field spellings seen in the wild: the continuous-query
// output uses window_end/user_id style, older emitters use user/device/ip_address.
type payload struct {
	WindowEnd            string   `json:"window_end"`
	TransactionWindowEnd string   `json:"transaction_window_end"`
	UserID               string   `json:"user_id"`
	User                 string   `json:"user"`
	DeviceID             string   `json:"device_id"`
	Device               string   `json:"device"`
	SourceIP             string   `json:"source_ip"`
	IPAddress            string   `json:"ip_address"`
	ThreatScore          *float64 `json:"threat_score"`
	Total2MinThreatScore *float64 `json:"total_2_min_threat_score"`
}

// Parse builds an Alert from a canonical payload string. Unparseable input is
// not an error: the alert passes through as free text with sentinel fields so
// the investigation still runs and the audit trail is still written.
func Parse(canonical string) *Alert {
	al := &Alert{
		UserID: UnknownUser,
		Raw:    canonical,
	}

	var p payload
	if err := json.Unmarshal([]byte(canonical), &p); err != nil {
		return al
	}

	if u := coalesce(p.UserID, p.User); u != "" {
		al.UserID = u
	}
	al.DeviceID = coalesce(p.DeviceID, p.Device)
	al.SourceIP = coalesce(p.SourceIP, p.IPAddress)

	if p.Total2MinThreatScore != nil {
		al.ThreatScore = *p.Total2MinThreatScore
	} else if p.ThreatScore != nil {
		al.ThreatScore = *p.ThreatScore
	}

	if ts := coalesce(p.WindowEnd, p.TransactionWindowEnd); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			al.WindowEnd = t
		}
	}

	return al
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
