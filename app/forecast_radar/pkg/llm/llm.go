// Package llm 定义模型调用客户端的统一接口以及各后端共享的重试逻辑。
//
// 调用方只依赖 Client 接口，托管 API 与本地推理服务两种实现可以互换。
package llm

import (
	"context"
	"fmt"
)

// Request 一次模型调用请求。Model 为空、Temperature 为 nil 时使用配置默认值
type Request struct {
	Prompt      string
	System      string
	Model       string
	Temperature *float64
}

// Client 模型调用客户端
type Client interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// Usage token 用量，仅用于日志
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response 单次尝试的返回
type Response struct {
	Text  string
	Usage *Usage
}

// Call 解析默认值之后真正发给后端的参数
type Call struct {
	Prompt      string
	System      string
	Model       string
	Temperature float64
}

// AttemptFunc 后端执行一次网络调用
type AttemptFunc func(ctx context.Context, call Call) (*Response, error)

// Temperature 返回 v 的指针
func Temperature(v float64) *float64 {
	return &v
}

func (r Request) validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("%w: empty prompt", ErrInvalidRequest)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature %v outside [0, 2]", ErrInvalidRequest, *r.Temperature)
	}
	return nil
}
