package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jgarizk/brainpro/internal/model/contract"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 4096

type Provider struct {
	client    anthropic.Client
	name      string
	maxTokens int
}

func New(name, apiKey, baseURL string, maxTokens int) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Provider{client: anthropic.NewClient(opts...), name: name, maxTokens: maxTokens}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Type() string {
	return "anthropic"
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	system, messages := toMessages(req.Messages)

	var tools []anthropic.ToolUnionParam
	for _, t := range req.Tools {
		tool := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: map[string]interface{}{}},
		}
		if t.Parameters != nil {
			if props, ok := t.Parameters["properties"].(map[string]interface{}); ok {
				tool.InputSchema = anthropic.ToolInputSchemaParam{Properties: props}
			}
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
		Tools:     tools,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	out := contract.Message{Role: contract.RoleAssistant}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += b.Text
		case anthropic.ToolUseBlock:
			inputJSON, _ := json.Marshal(b.Input)
			out.ToolCalls = append(out.ToolCalls, &contract.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: string(inputJSON),
			})
		}
	}

	return &contract.CompletionResponse{
		Choices: []contract.Choice{{Message: out, FinishReason: finishReason(string(msg.StopReason))}},
		Usage: &contract.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func finishReason(stop string) string {
	switch stop {
	case "max_tokens":
		return contract.FinishLength
	case "tool_use":
		return contract.FinishToolCalls
	default:
		return contract.FinishStop
	}
}

// toMessages lifts system messages into the system prompt and folds runs of
// tool results into one user turn, which the Messages API requires.
func toMessages(in []contract.Message) (string, []anthropic.MessageParam) {
	var system []string
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range in {
		switch m.Role {
		case contract.RoleSystem:
			system = append(system, m.Content)
		case contract.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case contract.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if strings.TrimSpace(tc.Input) != "" {
					input = json.RawMessage(tc.Input)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flush()

	return strings.Join(system, "\n\n"), out
}
