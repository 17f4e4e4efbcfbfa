package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport 单次尝试的网络或后端错误，会被重试
	ErrTransport = errors.New("transport failure")
	// ErrEmptyResponse 后端返回空白文本，按传输错误同样处理
	ErrEmptyResponse = errors.New("empty response")
	// ErrNoUsableResponse 重试次数耗尽
	ErrNoUsableResponse = errors.New("no usable response")
	// ErrInvalidRequest 请求参数非法，不会重试
	ErrInvalidRequest = errors.New("invalid request")
)

// TransportError 记录失败发生在第几次尝试
type TransportError struct {
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("attempt %d: %v: %v", e.Attempt, ErrTransport, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// ExhaustedRetriesError 一次调用的所有尝试都失败
type ExhaustedRetriesError struct {
	Backend  string
	Model    string
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("%s (%s): %v after %d attempts: %v", e.Backend, e.Model, ErrNoUsableResponse, e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() []error {
	return []error{ErrNoUsableResponse, e.Last}
}
