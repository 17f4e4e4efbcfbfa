package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/gate"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/logger"
)

// Settings 单个后端的默认值和重试预算
type Settings struct {
	Backend string
	// Model/Temperature 后端默认值，为空时回退到进程默认值
	Model              string
	Temperature        *float64
	DefaultModel       string
	DefaultTemperature float64

	// 总尝试次数为 MaxRetries + 1
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// CallTimeout 单次尝试的超时，超时按传输错误重试
	CallTimeout time.Duration
}

// Resolve 按 请求值 -> 后端默认值 -> 进程默认值 的顺序确定模型和温度
func (s Settings) Resolve(req Request) Call {
	call := Call{
		Prompt:      req.Prompt,
		System:      req.System,
		Model:       req.Model,
		Temperature: s.DefaultTemperature,
	}
	if call.Model == "" {
		call.Model = s.Model
	}
	if call.Model == "" {
		call.Model = s.DefaultModel
	}
	switch {
	case req.Temperature != nil:
		call.Temperature = *req.Temperature
	case s.Temperature != nil:
		call.Temperature = *s.Temperature
	}
	return call
}

// Invoker 各后端共享的调用流程：解析参数、获取许可、带上限的重试
type Invoker struct {
	settings Settings
	gate     *gate.Gate
	log      logrus.FieldLogger
}

// NewInvoker 创建 Invoker。g 为 nil 时不限制并发
func NewInvoker(s Settings, g *gate.Gate, log logrus.FieldLogger) *Invoker {
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	return &Invoker{
		settings: s,
		gate:     g,
		log:      logger.Or(log),
	}
}

// Settings 返回后端配置
func (inv *Invoker) Settings() Settings {
	return inv.settings
}

// Invoke 执行一次完整调用。整个重试过程只持有一个许可
func (inv *Invoker) Invoke(ctx context.Context, req Request, attempt AttemptFunc) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	call := inv.settings.Resolve(req)
	log := inv.log.WithFields(logrus.Fields{
		"backend": inv.settings.Backend,
		"model":   call.Model,
	})

	permit, err := inv.gate.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: wait for permit: %w", inv.settings.Backend, err)
	}
	defer permit.Release()

	attempts := inv.settings.MaxRetries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, inv.backoff(i)); err != nil {
				return "", fmt.Errorf("%s: %w", inv.settings.Backend, err)
			}
		}

		resp, err := inv.once(ctx, call, attempt)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%s: %w", inv.settings.Backend, ctx.Err())
			}
			lastErr = &TransportError{Attempt: i + 1, Err: err}
			log.WithField("attempt", i+1).Warnf("模型调用失败: %v", err)
			continue
		}

		if resp.Usage != nil {
			log.WithFields(logrus.Fields{
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
				"total_tokens":      resp.Usage.TotalTokens,
			}).Debug("token usage")
		}

		if strings.TrimSpace(resp.Text) == "" {
			lastErr = &TransportError{Attempt: i + 1, Err: ErrEmptyResponse}
			log.WithField("attempt", i+1).Warn("模型返回空内容")
			continue
		}

		if i > 0 {
			log.WithField("retries", i).Info("重试后调用成功")
		}
		return resp.Text, nil
	}

	log.WithField("attempts", attempts).Error("重试次数耗尽")
	return "", &ExhaustedRetriesError{
		Backend:  inv.settings.Backend,
		Model:    call.Model,
		Attempts: attempts,
		Last:     lastErr,
	}
}

func (inv *Invoker) once(ctx context.Context, call Call, attempt AttemptFunc) (*Response, error) {
	if inv.settings.CallTimeout <= 0 {
		return attempt(ctx, call)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, inv.settings.CallTimeout)
	defer cancel()

	resp, err := attempt(attemptCtx, call)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("timed out after %s: %w", inv.settings.CallTimeout, err)
	}
	return resp, err
}

// defaultMaxRetryDelay 未配置 MaxRetryDelay 时的等待上限
const defaultMaxRetryDelay = time.Minute

// backoff 第 n 次重试前的等待时间，指数增长并封顶
func (inv *Invoker) backoff(n int) time.Duration {
	base := inv.settings.RetryDelay
	if base <= 0 {
		return 0
	}
	ceiling := inv.settings.MaxRetryDelay
	if ceiling <= 0 {
		ceiling = defaultMaxRetryDelay
	}
	d := base
	for i := 1; i < n && d < ceiling; i++ {
		if d > ceiling/2 {
			d = ceiling
			break
		}
		d *= 2
	}
	return min(d, ceiling)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
