// Package ticket defines the identifiers that key an escalation through the
// audit sink and the escalation mailbox. A trusted ID is only ever minted
// here; identifiers found in inbound alert framing are carried as Hint and
// cannot cross into code that requires an ID.
package ticket

import (
	"regexp"

	"github.com/oklog/ulid/v2"
)

// ID is a trusted, freshly generated ticket identifier.
type ID string

// Hint is an untrusted ticket reference extracted from inbound text. It is
// useful for log correlation only and is deliberately a distinct type so it
// cannot be passed where an ID is required.
type Hint string

func (id ID) String() string  { return string(id) }
func (h Hint) String() string { return string(h) }

// userRe keeps the leading run of characters that are safe in a ticket id.
// Anything after the first disallowed character is dropped, which also
// defangs JSON blobs passed in place of a user id.
var userRe = regexp.MustCompile(`^[a-zA-Z0-9.]+`)

// New mints a ticket id of the form ticket-<user>-<ulid>. The ULID component
// makes ids globally unique and sortable by creation time.
func New(userID string) ID {
	return ID("ticket-" + sanitizeUser(userID) + "-" + ulid.Make().String())
}

func sanitizeUser(userID string) string {
	if userID == "" {
		return "unknown_user"
	}
	m := userRe.FindString(userID)
	if m == "" {
		return "invalid_id"
	}
	return m
}
