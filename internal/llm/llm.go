// Package llm defines the provider contract for the language-model
// capabilities the triage workflow consumes: investigation loops, the
// decision step, and visual evidence analysis.
package llm

import (
	"context"
	"encoding/json"
)

// Provider is the interface for any LLM backend.
type Provider interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// ToolDef is a tool definition in the provider wire format.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is the input to a provider call: conversation history, system
// prompt, and the tools the model may invoke.
type Request struct {
	MaxTokens int
	System    string
	Messages  []Message
	Tools     []ToolDef
}

// Response is the provider output: generated content, why generation
// stopped, and token usage.
type Response struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
	Model      string
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopEnd     StopReason = "end_turn"
	StopToolUse StopReason = "tool_use"
)

// Message is a single conversation message from the user or the assistant.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one block of message content: text, a tool call, a tool
// result, or an image reference.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	ImageURL  string          `json:"image_url,omitempty"`
}

// Usage is the token accounting for one provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Text returns the concatenated text blocks of a response. Convenient for
// single-shot calls that expect plain prose back.
func (r *Response) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}
