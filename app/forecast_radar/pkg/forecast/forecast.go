// Package forecast 对一个问题并发发起 N 次独立的模型调用，解析各自的预测值，
// 再把成功的结果聚合成一个预测。
//
// 单次调用失败或解析失败只记录在对应的 Outcome 上，不影响其他运行；
// 只有全部运行都失败时才返回 AggregationError。三种题型的聚合统一使用均值。
package forecast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/config"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/logger"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/research"
)

const (
	// MinProbability 与 MaxProbability 为聚合后概率的钳制范围
	MinProbability = 0.01
	MaxProbability = 0.99

	noResearch = "No research report is available for this question."
)

var (
	// ErrNoUsableEstimate 所有运行都没有得到可用的预测值
	ErrNoUsableEstimate = errors.New("no run produced a usable estimate")
	// ErrWrongType 题型与 Forecaster 不匹配
	ErrWrongType = errors.New("question type not supported by this forecaster")
	// ErrInvalidOptions 多选题选项不足、为空或重复
	ErrInvalidOptions = errors.New("invalid multiple choice options")
)

// ParseError 某次运行的回复无法解析
type ParseError struct {
	Run  int
	Kind model.QuestionType
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("run %d: parse %s estimate: %v", e.Run, e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// AggregationError 一批运行全部失败
type AggregationError struct {
	QuestionID string
	Kind       model.QuestionType
	Runs       int
	Failures   []error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("%s forecast %s: %v (%d runs): %v", e.Kind, e.QuestionID, ErrNoUsableEstimate, e.Runs, errors.Join(e.Failures...))
}

func (e *AggregationError) Unwrap() []error {
	return append([]error{ErrNoUsableEstimate}, e.Failures...)
}

// Outcome 单次运行的记录
type Outcome[E any] struct {
	Run       int
	Estimate  E
	Rationale string
	Err       error
}

// OK 运行是否得到可用预测
func (o Outcome[E]) OK() bool {
	return o.Err == nil
}

// Prediction 聚合后的预测
type Prediction[E any] struct {
	ID         string
	QuestionID string
	Kind       model.QuestionType
	Estimate   E
	Comment    string
	Outcomes   []Outcome[E]
	CreatedAt  time.Time
}

// Succeeded 成功的运行数
func (p *Prediction[E]) Succeeded() int {
	n := 0
	for _, o := range p.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

// Failed 失败的运行数
func (p *Prediction[E]) Failed() int {
	return len(p.Outcomes) - p.Succeeded()
}

// Options Forecaster 选项
type Options struct {
	Model       string
	Temperature *float64
	// NumRuns 调用方未指定次数时使用
	NumRuns int
	// Research 为空或调用方已提供报告时不调研
	Research research.Provider
	Now      func() time.Time
}

// OptionsFromConfig 从配置构造选项
func OptionsFromConfig(cfg config.ForecastConfig, provider research.Provider) Options {
	return Options{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		NumRuns:     cfg.NumRuns,
		Research:    provider,
	}
}

// engine 三种 Forecaster 共用的流程
type engine struct {
	kind   model.QuestionType
	client llm.Client
	opts   Options
	log    logrus.FieldLogger
}

func newEngine(kind model.QuestionType, client llm.Client, opts Options, log logrus.FieldLogger) engine {
	if opts.NumRuns < 1 {
		opts.NumRuns = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return engine{kind: kind, client: client, opts: opts, log: logger.Or(log)}
}

func (e *engine) runs(n int) int {
	if n < 1 {
		return e.opts.NumRuns
	}
	return n
}

// ensureReport 调用方未提供报告时调研一次，调研失败时降级为无报告
func (e *engine) ensureReport(ctx context.Context, q *model.Question, report string, log logrus.FieldLogger) string {
	if strings.TrimSpace(report) != "" {
		return report
	}
	if e.opts.Research == nil {
		return noResearch
	}
	r, err := e.opts.Research.Run(ctx, q.Title, q.Details)
	if err != nil {
		log.Warnf("调研失败，不带报告继续预测: %v", err)
		return noResearch
	}
	return r
}

// run 并发执行 n 次调用并逐个解析，等待全部结束，失败不取消其他运行
func run[E any](ctx context.Context, e *engine, prompt string, n int, parse func(string) (E, error)) []Outcome[E] {
	outcomes := make([]Outcome[E], n)
	req := llm.Request{Prompt: prompt, Model: e.opts.Model, Temperature: e.opts.Temperature}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := Outcome[E]{Run: i + 1}
			defer func() { outcomes[i] = o }()

			text, err := e.client.Invoke(ctx, req)
			if err != nil {
				o.Err = fmt.Errorf("run %d: %w", i+1, err)
				return
			}
			o.Rationale = text
			est, err := parse(text)
			if err != nil {
				o.Err = &ParseError{Run: i + 1, Kind: e.kind, Err: err}
				return
			}
			o.Estimate = est
		}(i)
	}
	wg.Wait()
	return outcomes
}

// collect 返回成功运行的预测值，全部失败时返回 AggregationError
func collect[E any](e *engine, q *model.Question, outcomes []Outcome[E], log logrus.FieldLogger) ([]E, error) {
	var (
		ok       []E
		failures []error
	)
	for _, o := range outcomes {
		if o.OK() {
			ok = append(ok, o.Estimate)
			continue
		}
		failures = append(failures, o.Err)
		log.WithField("run", o.Run).Warnf("运行失败: %v", o.Err)
	}
	if len(ok) == 0 {
		return nil, &AggregationError{QuestionID: q.ID, Kind: e.kind, Runs: len(outcomes), Failures: failures}
	}
	return ok, nil
}

func newPrediction[E any](e *engine, q *model.Question, est E, text string, outcomes []Outcome[E]) *Prediction[E] {
	return &Prediction[E]{
		ID:         uuid.NewString(),
		QuestionID: q.ID,
		Kind:       q.Type,
		Estimate:   est,
		Comment:    text,
		Outcomes:   outcomes,
		CreatedAt:  e.opts.Now(),
	}
}

// comment 拼接总结行和每次运行的推理过程
func comment[E any](headline string, outcomes []Outcome[E], describe func(E) string) string {
	sections := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		var body string
		switch {
		case o.OK():
			body = describe(o.Estimate) + "\n\nModel's Answer: " + o.Rationale
		case o.Rationale != "":
			body = fmt.Sprintf("Run failed: %v\n\nModel's Answer: %s", o.Err, o.Rationale)
		default:
			body = fmt.Sprintf("Run failed: %v", o.Err)
		}
		sections = append(sections, fmt.Sprintf("## Rationale %d\n%s", o.Run, body))
	}
	return headline + "\n\n" + strings.Join(sections, "\n\n")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func checkType(q *model.Question, kinds ...model.QuestionType) error {
	for _, k := range kinds {
		if q.Type == k {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWrongType, q.Type)
}
