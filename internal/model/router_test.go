package model

import (
	"context"
	"errors"
	"testing"

	"github.com/jgarizk/brainpro/internal/config"
	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*contract.CompletionResponse)
	return resp, args.Error(1)
}

func (m *mockProvider) Name() string { return "mock" }
func (m *mockProvider) Type() string { return "mock" }

func TestChat_SetsModelAndMaxTokens(t *testing.T) {
	r := NewModelRouter(map[string]config.BackendConfig{"local": {Provider: "openai", MaxTokens: 256}})
	p := &mockProvider{}
	r.Register("local", p)

	want := &contract.CompletionResponse{Choices: []contract.Choice{{Message: contract.Message{Role: "assistant", Content: "hi"}}}}
	p.On("Generate", mock.Anything, mock.MatchedBy(func(req contract.CompletionRequest) bool {
		return req.Model == "llama3" && req.MaxTokens == 256
	})).Return(want, nil)

	resp, err := r.Chat(context.Background(), Target{Model: "llama3", Backend: "local"}, contract.CompletionRequest{})
	require.NoError(t, err)
	assert.Same(t, want, resp)
	p.AssertExpectations(t)
}

func TestChat_WrapsProviderFailureAsBackendError(t *testing.T) {
	r := NewModelRouter(nil)
	p := &mockProvider{}
	r.Register("local", p)
	p.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := r.Chat(context.Background(), Target{Model: "m", Backend: "local"}, contract.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, bpErrors.IsCategory(err, bpErrors.ErrBackend))
	p.AssertNumberOfCalls(t, "Generate", 1)
}

func TestChat_UnknownBackendIsConfigError(t *testing.T) {
	r := NewModelRouter(map[string]config.BackendConfig{})
	_, err := r.Chat(context.Background(), Target{Model: "m", Backend: "nowhere"}, contract.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, bpErrors.IsCategory(err, bpErrors.ErrConfig))
}

func TestChat_BuildsOpenAICompatibleProviderLazily(t *testing.T) {
	r := NewModelRouter(map[string]config.BackendConfig{"ollama": {Provider: "openai", BaseURL: "http://127.0.0.1:1/v1"}})

	p, err := r.resolveProvider(context.Background(), "ollama")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Type())
	assert.Equal(t, "ollama", p.Name())

	again, err := r.resolveProvider(context.Background(), "ollama")
	require.NoError(t, err)
	assert.Same(t, p, again)
}

func TestHealth_FlagsMissingKeys(t *testing.T) {
	t.Setenv("BRAINPRO_TEST_MISSING_KEY", "")
	r := NewModelRouter(map[string]config.BackendConfig{
		"claude": {Provider: "anthropic", APIKeyEnv: "BRAINPRO_TEST_MISSING_KEY"},
	})
	err := r.Health(context.Background())
	require.Error(t, err)
	assert.True(t, bpErrors.IsCategory(err, bpErrors.ErrConfig))

	r.Register("claude", &mockProvider{})
	assert.NoError(t, r.Health(context.Background()))
}

func TestListBackends(t *testing.T) {
	r := NewModelRouter(map[string]config.BackendConfig{"b": {}, "a": {}})
	r.Register("c", &mockProvider{})
	assert.Equal(t, []string{"a", "b", "c"}, r.ListBackends())
}
