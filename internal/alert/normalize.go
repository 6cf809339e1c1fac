package alert

import (
	"regexp"
	"strings"

	"github.com/linnemanlabs/warden/internal/ticket"
)

// hintRe matches a ticket reference in the narrative framing that trigger
// transports wrap around the payload. Whatever it captures is untrusted.
var hintRe = regexp.MustCompile(`Ticket ID is ([\w-]+)`)

// Normalize unwraps a framed alert. It locates the first JSON object boundary
// and treats everything from that point as the canonical payload; any ticket
// reference in the preceding text is returned as an untrusted hint for log
// correlation only. If no JSON object is present the raw text passes through
// unchanged and downstream consumers must tolerate free text.
func Normalize(raw string) (ticket.Hint, string) {
	var hint ticket.Hint

	start := strings.Index(raw, "{")
	framing := raw
	if start >= 0 {
		framing = raw[:start]
	}

	if m := hintRe.FindStringSubmatch(framing); m != nil {
		hint = ticket.Hint(m[1])
	}

	if start < 0 {
		return hint, raw
	}
	return hint, raw[start:]
}
