// Package claude implements llm.Provider on the Anthropic SDK.
package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/warden/internal/llm"
)

// Client calls the Anthropic Messages API.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a Claude-backed provider for the given API key and model.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Send converts the request to SDK types, performs the API call, and converts
// the response back.
func (c *Client) Send(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  toSDKMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toSDKTools(req.Tools)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude: messages.new: %w", err)
	}

	return fromSDKResponse(msg), nil
}

// toSDKMessages converts provider-neutral messages into SDK message params.
func toSDKMessages(msgs []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: b.Text},
				})
			case "tool_use":
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    b.ID,
						Name:  b.Name,
						Input: json.RawMessage(b.Input),
					},
				})
			case "tool_result":
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: b.ToolUseID,
						IsError:   anthropic.Bool(b.IsError),
						Content: []anthropic.ToolResultBlockParamContentUnion{
							{OfText: &anthropic.TextBlockParam{Text: b.Content}},
						},
					},
				})
			case "image":
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfImage: &anthropic.ImageBlockParam{
						Source: anthropic.ImageBlockParamSourceUnion{
							OfURL: &anthropic.URLImageSourceParam{URL: b.ImageURL},
						},
					},
				})
			}
		}
		out = append(out, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(m.Role),
			Content: blocks,
		})
	}
	return out
}

// toSDKTools converts tool definitions into SDK tool params. The input schema
// arrives as raw JSON Schema and is split into properties/required for the
// typed SDK field.
func toSDKTools(defs []llm.ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		// A schema that fails to parse produces a tool with no parameters,
		// which the model treats as taking an empty object.
		_ = json.Unmarshal(d.InputSchema, &schema)

		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		})
	}
	return out
}

// fromSDKResponse converts an SDK message into the provider-neutral response.
func fromSDKResponse(msg *anthropic.Message) *llm.Response {
	content := make([]llm.ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			content = append(content, llm.ContentBlock{Type: "text", Text: b.Text})
		case "tool_use":
			content = append(content, llm.ContentBlock{
				Type:  "tool_use",
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			})
		}
	}

	return &llm.Response{
		Content:    content,
		StopReason: llm.StopReason(msg.StopReason),
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Model: string(msg.Model),
	}
}
