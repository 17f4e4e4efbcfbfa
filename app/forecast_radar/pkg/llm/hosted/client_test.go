package hosted

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/config"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/gate"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/logger"
)

// stubChatModel 按顺序返回预设回复
type stubChatModel struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	options []*model.Options
	inputs  [][]*schema.Message
}

func (s *stubChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.options = append(s.options, model.GetCommonOptions(nil, opts...))
	s.inputs = append(s.inputs, input)

	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	reply := ""
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	return &schema.Message{
		Role:    schema.Assistant,
		Content: reply,
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
		},
	}, nil
}

func (s *stubChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func newTestClient(cm model.BaseChatModel, maxRetries int) *Client {
	cfg := config.Default()
	cfg.LLM.MaxRetries = maxRetries
	cfg.LLM.RetryDelay = 0
	return NewClient(cm, Settings(cfg), cfg.LLM.ModelsWithoutTemperature, gate.New(cfg.Concurrency.Limit), logger.Discard())
}

func TestClient_EmptyTwiceThenYes(t *testing.T) {
	cm := &stubChatModel{replies: []string{"", "", "yes"}}
	c := newTestClient(cm, 2)

	out, err := c.Invoke(context.Background(), llm.Request{Prompt: "Is it raining?"})
	require.NoError(t, err)
	assert.Equal(t, "yes", out)
	assert.Equal(t, 3, cm.calls)
}

func TestClient_ExhaustsRetries(t *testing.T) {
	cm := &stubChatModel{errs: []error{errors.New("502 bad gateway"), errors.New("502 bad gateway")}}
	c := newTestClient(cm, 1)

	_, err := c.Invoke(context.Background(), llm.Request{Prompt: "p"})
	assert.ErrorIs(t, err, llm.ErrNoUsableResponse)
	assert.Equal(t, 2, cm.calls)
}

func TestClient_OmitsTemperatureForListedModels(t *testing.T) {
	cm := &stubChatModel{replies: []string{"a", "b"}}
	c := newTestClient(cm, 0)

	_, err := c.Invoke(context.Background(), llm.Request{Prompt: "p", Model: "anthropic/claude-sonnet-4.5", Temperature: llm.Temperature(0.9)})
	require.NoError(t, err)
	_, err = c.Invoke(context.Background(), llm.Request{Prompt: "p", Model: "openai/gpt-5.2", Temperature: llm.Temperature(0.9)})
	require.NoError(t, err)

	require.Len(t, cm.options, 2)
	assert.Nil(t, cm.options[0].Temperature)
	require.NotNil(t, cm.options[0].Model)
	assert.Equal(t, "anthropic/claude-sonnet-4.5", *cm.options[0].Model)

	require.NotNil(t, cm.options[1].Temperature)
	assert.InDelta(t, 0.9, float64(*cm.options[1].Temperature), 1e-6)
}

func TestClient_SystemMessage(t *testing.T) {
	cm := &stubChatModel{replies: []string{"report"}}
	c := newTestClient(cm, 0)

	_, err := c.Invoke(context.Background(), llm.Request{Prompt: "question", System: "you are a researcher"})
	require.NoError(t, err)

	require.Len(t, cm.inputs[0], 2)
	assert.Equal(t, schema.System, cm.inputs[0][0].Role)
	assert.Equal(t, schema.User, cm.inputs[0][1].Role)
	assert.Equal(t, "question", cm.inputs[0][1].Content)
}

func TestNewChatModel_RequiresAPIKey(t *testing.T) {
	_, err := NewChatModel(context.Background(), config.LLMConfig{BaseURL: "https://openrouter.ai/api/v1"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
