// Package hosted 通过 eino ChatModel 调用 OpenAI 兼容的托管 API (OpenRouter 等)。
package hosted

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/config"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/gate"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
)

// Backend 日志和错误中使用的后端名
const Backend = "hosted"

// ErrMissingAPIKey 未配置 API key
var ErrMissingAPIKey = errors.New("hosted llm: api key is missing")

// Client 托管 API 客户端
type Client struct {
	chatModel model.BaseChatModel
	invoker   *llm.Invoker
	noTemp    map[string]struct{}
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)

// NewChatModel 按配置创建 eino openai ChatModel
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM 初始化失败: %w", err)
	}
	return cm, nil
}

// Settings 从配置构造托管后端的调用参数
func Settings(cfg *config.Config) llm.Settings {
	return llm.Settings{
		Backend:            Backend,
		Model:              cfg.LLM.Model,
		Temperature:        cfg.LLM.Temperature,
		DefaultModel:       cfg.Defaults.Model,
		DefaultTemperature: cfg.Defaults.Temperature,
		MaxRetries:         cfg.LLM.MaxRetries,
		RetryDelay:         cfg.LLM.RetryDelay,
		MaxRetryDelay:      cfg.LLM.MaxRetryDelay,
		CallTimeout:        cfg.LLM.CallTimeout,
	}
}

// NewClient 创建客户端。modelsWithoutTemperature 中的模型调用时不传温度
func NewClient(cm model.BaseChatModel, s llm.Settings, modelsWithoutTemperature []string, g *gate.Gate, log logrus.FieldLogger) *Client {
	s.Backend = Backend
	noTemp := make(map[string]struct{}, len(modelsWithoutTemperature))
	for _, m := range modelsWithoutTemperature {
		noTemp[m] = struct{}{}
	}
	return &Client{
		chatModel: cm,
		invoker:   llm.NewInvoker(s, g, log),
		noTemp:    noTemp,
	}
}

// Invoke implements llm.Client
func (c *Client) Invoke(ctx context.Context, req llm.Request) (string, error) {
	return c.invoker.Invoke(ctx, req, c.generate)
}

// AcceptsTemperature 模型是否接受温度参数
func (c *Client) AcceptsTemperature(modelName string) bool {
	_, skip := c.noTemp[modelName]
	return !skip
}

func (c *Client) generate(ctx context.Context, call llm.Call) (*llm.Response, error) {
	messages := make([]*schema.Message, 0, 2)
	if call.System != "" {
		messages = append(messages, schema.SystemMessage(call.System))
	}
	messages = append(messages, schema.UserMessage(call.Prompt))

	opts := []model.Option{model.WithModel(call.Model)}
	if c.AcceptsTemperature(call.Model) {
		opts = append(opts, model.WithTemperature(float32(call.Temperature)))
	}

	resp, err := c.chatModel.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &llm.Response{}, nil
	}

	out := &llm.Response{Text: resp.Content}
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		u := resp.ResponseMeta.Usage
		out.Usage = &llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}
