package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jgarizk/brainpro/internal/model/contract"

	"google.golang.org/genai"
)

type Provider struct {
	client    *genai.Client
	name      string
	maxTokens int
}

func New(ctx context.Context, name, apiKey, baseURL string, maxTokens int) (*Provider, error) {
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, name: name, maxTokens: maxTokens}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Type() string {
	return "gemini"
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	system, contents := toContents(req.Messages)

	cfg := &genai.GenerateContentConfig{Tools: toTools(req.Tools)}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	out := &contract.CompletionResponse{}
	if resp == nil {
		return out, nil
	}
	if resp.UsageMetadata != nil {
		out.Usage = &contract.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return out, nil
	}

	cand := resp.Candidates[0]
	msg := contract.Message{Role: contract.RoleAssistant}
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				msg.Content += part.Text
			}
			if fc := part.FunctionCall; fc != nil {
				argsJSON, _ := json.Marshal(fc.Args)
				id := fc.ID
				if id == "" {
					id = fmt.Sprintf("%s_%d", fc.Name, len(msg.ToolCalls)+1)
				}
				msg.ToolCalls = append(msg.ToolCalls, &contract.ToolCall{ID: id, Name: fc.Name, Input: string(argsJSON)})
			}
		}
	}

	reason := contract.FinishStop
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		reason = contract.FinishLength
	} else if len(msg.ToolCalls) > 0 {
		reason = contract.FinishToolCalls
	}
	out.Choices = []contract.Choice{{Message: msg, FinishReason: reason}}
	return out, nil
}

// toContents converts the history. Function responses must carry the tool
// name, so call ids are mapped back to the assistant's earlier calls.
func toContents(in []contract.Message) (string, []*genai.Content) {
	var system []string
	var contents []*genai.Content
	names := map[string]string{}

	for _, m := range in {
		switch m.Role {
		case contract.RoleSystem:
			system = append(system, m.Content)
		case contract.RoleTool:
			var obj map[string]any
			if err := json.Unmarshal([]byte(m.Content), &obj); err != nil {
				obj = map[string]any{"output": m.Content}
			}
			name := names[m.ToolCallID]
			if name == "" {
				name = m.ToolCallID
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{ID: m.ToolCallID, Name: name, Response: obj},
			}}})
		case contract.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				names[tc.ID] = tc.Name
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Input), &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func toTools(in []contract.ToolDef) []*genai.Tool {
	if len(in) == 0 {
		return nil
	}
	var decls []*genai.FunctionDeclaration
	for _, t := range in {
		decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if t.Parameters != nil {
			b, _ := json.Marshal(t.Parameters)
			var schema genai.Schema
			if err := json.Unmarshal(b, &schema); err == nil {
				decl.Parameters = &schema
			}
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
