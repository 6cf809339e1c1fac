package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/warden/internal/llm"
)

const visionMaxTokens = 1024

const visionSystem = `You are a security analyst reviewing a screenshot
captured from a corporate endpoint. Describe what the image shows factually:
visible applications, commands, file names, dialog text. Call out anything
consistent with data exfiltration or credential theft. Do not speculate
beyond what is visible.`

// AnalyzeScreenshot sends visual evidence to the model for description. It
// takes a fetchable URL, not a raw object-store URI; find_evidence_uri
// includes a signed link in its result for exactly this purpose.
type AnalyzeScreenshot struct {
	provider llm.Provider
}

func NewAnalyzeScreenshot(provider llm.Provider) *AnalyzeScreenshot {
	return &AnalyzeScreenshot{provider: provider}
}

func (a *AnalyzeScreenshot) Name() string { return "analyze_screenshot" }

func (a *AnalyzeScreenshot) Description() string {
	return `Analyze a screenshot captured as visual evidence. Pass the
signed_url returned by find_evidence_uri. Returns a factual description of
what the screenshot shows.`
}

func (a *AnalyzeScreenshot) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "image_url": {
                "type": "string",
                "description": "Signed, fetchable URL of the screenshot"
            },
            "question": {
                "type": "string",
                "description": "Optional focus for the analysis"
            }
        },
        "required": ["image_url"]
    }`)
}

func (a *AnalyzeScreenshot) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		ImageURL string `json:"image_url"`
		Question string `json:"question,omitempty"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if input.ImageURL == "" {
		return nil, fmt.Errorf("image_url is required")
	}

	question := input.Question
	if question == "" {
		question = "Describe this screenshot and flag anything security-relevant."
	}

	resp, err := a.provider.Send(ctx, &llm.Request{
		MaxTokens: visionMaxTokens,
		System:    visionSystem,
		Messages: []llm.Message{{
			Role: "user",
			Content: []llm.ContentBlock{
				{Type: "image", ImageURL: input.ImageURL},
				{Type: "text", Text: question},
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("vision call failed: %w", err)
	}

	return json.Marshal(map[string]any{"analysis": resp.Text()})
}
