package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/warden/internal/signurl"
	"github.com/linnemanlabs/warden/internal/warehouse"
)

// FindEvidenceURI looks up visual evidence (a screenshot) captured for a
// user's recent activity. The result carries the object-store URI for the
// findings plus a signed, fetchable link for analyze_screenshot; the model
// never needs store credentials.
type FindEvidenceURI struct {
	locator warehouse.EvidenceLocator
	signer  *signurl.Signer
}

func NewFindEvidenceURI(locator warehouse.EvidenceLocator, signer *signurl.Signer) *FindEvidenceURI {
	return &FindEvidenceURI{locator: locator, signer: signer}
}

func (f *FindEvidenceURI) Name() string { return "find_evidence_uri" }

func (f *FindEvidenceURI) Description() string {
	return `Look up visual evidence (a screenshot) captured for a user's recent
activity. Include the evidence_uri verbatim in your findings; pass the
signed_url to analyze_screenshot. Absence of evidence is a valid result and
is not itself suspicious.`
}

func (f *FindEvidenceURI) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "user_id": {
                "type": "string",
                "description": "User to look up evidence for"
            }
        },
        "required": ["user_id"]
    }`)
}

func (f *FindEvidenceURI) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if input.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	uri, err := f.locator.FindEvidenceURI(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("evidence lookup failed: %w", err)
	}
	if uri == "" {
		return json.Marshal(map[string]any{"found": false})
	}

	out := map[string]any{"found": true, "evidence_uri": uri}
	if f.signer != nil {
		if signed, err := f.signer.Sign(uri); err == nil {
			out["signed_url"] = signed
		}
	}
	return json.Marshal(out)
}
