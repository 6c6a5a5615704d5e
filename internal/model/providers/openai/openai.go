package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/jgarizk/brainpro/internal/model/contract"

	"github.com/sashabaranov/go-openai"
)

// Provider talks to any OpenAI-compatible chat-completions endpoint. Local
// and third-party servers (Ollama, Venice) only differ by base URL.
type Provider struct {
	client *openai.Client
	name   string
}

func New(name, apiKey, baseURL string) *Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &Provider{client: openai.NewClientWithConfig(cfg), name: name}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Type() string {
	return "openai"
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  toMessages(req.Messages),
		Tools:     toTools(req.Tools),
		MaxTokens: req.MaxTokens,
	}
	if len(chatReq.Tools) > 0 && req.ToolChoice != "" {
		chatReq.ToolChoice = req.ToolChoice
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	out := &contract.CompletionResponse{
		Usage: &contract.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, choice := range resp.Choices {
		msg := contract.Message{Role: contract.RoleAssistant, Content: choice.Message.Content}
		for _, tc := range choice.Message.ToolCalls {
			id := tc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", len(msg.ToolCalls)+1)
			}
			msg.ToolCalls = append(msg.ToolCalls, &contract.ToolCall{
				ID:    id,
				Name:  tc.Function.Name,
				Input: tc.Function.Arguments,
			})
		}
		out.Choices = append(out.Choices, contract.Choice{Message: msg, FinishReason: string(choice.FinishReason)})
	}
	return out, nil
}

func toMessages(in []contract.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Input,
				},
			})
		}
		messages = append(messages, msg)
	}
	return messages
}

func toTools(in []contract.ToolDef) []openai.Tool {
	var tools []openai.Tool
	for _, t := range in {
		params := t.Parameters
		if params == nil {
			params = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}
