package forecast

import (
	"context"
	"fmt"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/extract"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

// Distribution 选项 -> 概率
type Distribution map[string]float64

// MultipleChoiceForecaster 多选一预测
type MultipleChoiceForecaster struct {
	engine
}

// NewMultipleChoiceForecaster 创建多选题 Forecaster
func NewMultipleChoiceForecaster(client llm.Client, opts Options, log logrus.FieldLogger) *MultipleChoiceForecaster {
	return &MultipleChoiceForecaster{engine: newEngine(model.MultipleChoice, client, opts, log)}
}

// Forecast 每次运行先各自归一化，再按选项取均值并重新归一化
func (f *MultipleChoiceForecaster) Forecast(ctx context.Context, q *model.Question, report string, numRuns int) (*Prediction[Distribution], error) {
	if err := checkType(q, model.MultipleChoice); err != nil {
		return nil, err
	}
	if err := model.CheckOptions(q.Options); err != nil {
		return nil, fmt.Errorf("%w: question %s %v", ErrInvalidOptions, q.ID, err)
	}
	n := f.runs(numRuns)
	log := f.log.WithFields(logrus.Fields{"question_id": q.ID, "type": q.Type, "runs": n})

	report = f.ensureReport(ctx, q, report, log)
	parse := func(text string) (Distribution, error) {
		raw, err := extract.OptionProbabilities(text, len(q.Options))
		if err != nil {
			return nil, err
		}
		return NormalizeRun(q.Options, raw)
	}
	outcomes := run(ctx, &f.engine, buildMultipleChoicePrompt(q, report, f.opts.Now()), n, parse)

	dists, err := collect(&f.engine, q, outcomes, log)
	if err != nil {
		return nil, err
	}
	agg, err := AggregateDistributions(q.Options, dists)
	if err != nil {
		return nil, err
	}

	text := comment("Average Probability Per Option: "+agg.format(q.Options), outcomes, func(d Distribution) string {
		return "Extracted Probabilities: " + d.format(q.Options)
	})
	log.WithField("ok", len(dists)).Infof("多选题预测完成: %s", agg.format(q.Options))
	return newPrediction(&f.engine, q, agg, text, outcomes), nil
}

// NormalizeRun 把一次运行的原始数值转成分布：先按总和缩放，
// 再钳制到 [MinProbability, MaxProbability]，最后重新归一化
func NormalizeRun(options []string, raw []float64) (Distribution, error) {
	if err := model.CheckOptions(options); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if len(raw) != len(options) {
		return nil, fmt.Errorf("%w: %d values for %d options", extract.ErrNoEstimate, len(raw), len(options))
	}
	vals := make([]float64, len(raw))
	copy(vals, raw)
	for _, v := range vals {
		if v < 0 {
			return nil, fmt.Errorf("%w: negative probability %v", extract.ErrNoEstimate, v)
		}
	}
	sum := floats.Sum(vals)
	if sum <= 0 {
		return nil, fmt.Errorf("%w: probabilities sum to %v", extract.ErrNoEstimate, sum)
	}
	floats.Scale(1/sum, vals)
	for i, v := range vals {
		vals[i] = clamp(v, MinProbability, MaxProbability)
	}
	renormalize(vals)

	d := make(Distribution, len(options))
	for i, opt := range options {
		d[opt] = vals[i]
	}
	return d, nil
}

// AggregateDistributions 按选项取均值后重新归一化，结果之和为 1
func AggregateDistributions(options []string, dists []Distribution) (Distribution, error) {
	if err := model.CheckOptions(options); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if len(dists) == 0 {
		return nil, ErrNoUsableEstimate
	}
	means := make([]float64, len(options))
	for i, opt := range options {
		col := make([]float64, 0, len(dists))
		for _, d := range dists {
			col = append(col, d[opt])
		}
		m, err := stats.Mean(col)
		if err != nil {
			return nil, fmt.Errorf("aggregate option %q: %w", opt, err)
		}
		means[i] = m
	}
	if floats.Sum(means) <= 0 {
		return nil, fmt.Errorf("%w: option means sum to zero", ErrNoUsableEstimate)
	}
	renormalize(means)

	out := make(Distribution, len(options))
	for i, opt := range options {
		out[opt] = means[i]
	}
	return out, nil
}

// renormalize 缩放到总和为 1，浮点误差补到最后一项
func renormalize(vals []float64) {
	floats.Scale(1/floats.Sum(vals), vals)
	vals[len(vals)-1] += 1 - floats.Sum(vals)
}

func (d Distribution) format(options []string) string {
	parts := make([]string, len(options))
	for i, opt := range options {
		parts[i] = fmt.Sprintf("%s=%.2f%%", opt, d[opt]*100)
	}
	return strings.Join(parts, ", ")
}
