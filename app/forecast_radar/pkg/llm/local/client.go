// Package local 通过 eino ChatModel 调用本地部署的 OpenAI 兼容推理服务 (vLLM、llama.cpp server 等)。
//
// 连接通过显式的会话管理：Open 之后才能调用，用完 Close。
// 同一时刻只允许一个会话，会话不能跨作用域共享。
package local

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/config"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/gate"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/logger"
)

// Backend 日志和错误中使用的后端名
const Backend = "local"

var (
	// ErrSessionActive 已有会话未关闭
	ErrSessionActive = errors.New("local llm: session already open")
	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("local llm: session closed")
	// ErrMissingBaseURL 未配置服务地址
	ErrMissingBaseURL = errors.New("local llm: base url is missing")
)

// Options 本地后端选项
type Options struct {
	BaseURL   string
	MaxTokens int
	// NoThinkSuffix 非空时追加到 prompt 末尾，关闭推理模型的思考输出
	NoThinkSuffix string
	// Transport 为空时每个会话新建一个 http.Transport
	Transport http.RoundTripper
}

// Client 本地推理服务客户端，本身不发请求，通过 Open 得到的 Session 调用
type Client struct {
	opts     Options
	settings llm.Settings
	gate     *gate.Gate
	log      logrus.FieldLogger

	mu     sync.Mutex
	active *Session
}

// NewClient 创建客户端
func NewClient(opts Options, s llm.Settings, g *gate.Gate, log logrus.FieldLogger) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	s.Backend = Backend
	return &Client{
		opts:     opts,
		settings: s,
		gate:     g,
		log:      logger.Or(log).WithField("backend", Backend),
	}, nil
}

// FromConfig 按配置创建客户端
func FromConfig(cfg *config.Config, g *gate.Gate, log logrus.FieldLogger) (*Client, error) {
	opts := Options{
		BaseURL:   cfg.LocalLLM.BaseURL,
		MaxTokens: cfg.LocalLLM.MaxTokens,
	}
	if cfg.LocalLLM.NoThink {
		opts.NoThinkSuffix = cfg.LocalLLM.NoThinkSuffix
	}
	s := llm.Settings{
		Model:              cfg.LocalLLM.Model,
		Temperature:        cfg.LocalLLM.Temperature,
		DefaultModel:       cfg.Defaults.Model,
		DefaultTemperature: cfg.Defaults.Temperature,
		MaxRetries:         cfg.LocalLLM.MaxRetries,
		RetryDelay:         cfg.LocalLLM.RetryDelay,
		MaxRetryDelay:      cfg.LocalLLM.MaxRetryDelay,
		CallTimeout:        cfg.LocalLLM.CallTimeout,
	}
	return NewClient(opts, s, g, log)
}

// Open 打开会话
func (c *Client) Open(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, ErrSessionActive
	}

	transport := c.opts.Transport
	var owned *http.Transport
	if transport == nil {
		owned = http.DefaultTransport.(*http.Transport).Clone()
		transport = owned
	}
	cfg := &openai.ChatModelConfig{
		BaseURL:    c.opts.BaseURL,
		Model:      c.settings.Model,
		HTTPClient: &http.Client{Transport: transport},
	}
	if c.opts.MaxTokens > 0 {
		cfg.MaxTokens = &c.opts.MaxTokens
	}
	cm, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		if owned != nil {
			owned.CloseIdleConnections()
		}
		return nil, fmt.Errorf("local llm: init chat model: %w", err)
	}
	s := &Session{
		client:    c,
		chatModel: cm,
		transport: owned,
		invoker:   llm.NewInvoker(c.settings, c.gate, c.log),
	}
	c.active = s
	c.log.Debug("本地模型会话已打开")
	return s, nil
}

// WithSession 打开会话执行 fn，任何情况下都会关闭会话
func (c *Client) WithSession(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	s, err := c.Open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// HealthCheck 请求 GET /models 确认服务可用
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("local llm healthcheck: build request: %w", err)
	}
	hc := &http.Client{Transport: c.opts.Transport}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("local llm healthcheck: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("local llm healthcheck: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) release(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == s {
		c.active = nil
	}
}

// Session 一次本地推理会话，实现 llm.Client
type Session struct {
	client    *Client
	chatModel model.BaseChatModel
	transport *http.Transport
	invoker   *llm.Invoker

	mu     sync.RWMutex
	closed bool
}

// Ensure Session implements llm.Client
var _ llm.Client = (*Session)(nil)

// Invoke implements llm.Client
func (s *Session) Invoke(ctx context.Context, req llm.Request) (string, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return "", ErrSessionClosed
	}
	return s.invoker.Invoke(ctx, req, s.complete)
}

// Close 关闭会话并释放连接，可重复调用
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.transport != nil {
		s.transport.CloseIdleConnections()
	}
	s.client.release(s)
	s.client.log.Debug("本地模型会话已关闭")
	return nil
}

func (s *Session) complete(ctx context.Context, call llm.Call) (*llm.Response, error) {
	prompt := call.Prompt
	if suffix := s.client.opts.NoThinkSuffix; suffix != "" {
		prompt = prompt + "\n" + suffix
	}

	messages := make([]*schema.Message, 0, 2)
	if call.System != "" {
		messages = append(messages, schema.SystemMessage(call.System))
	}
	messages = append(messages, schema.UserMessage(prompt))

	resp, err := s.chatModel.Generate(ctx, messages,
		model.WithModel(call.Model),
		model.WithTemperature(float32(call.Temperature)),
	)
	if err != nil {
		return nil, fmt.Errorf("local llm: %w", err)
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
