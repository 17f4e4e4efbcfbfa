package forecast

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/extract"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

// PercentileValue 一个分位点及其取值
type PercentileValue struct {
	Percentile int     `json:"percentile"`
	Value      float64 `json:"value"`
}

// NumericEstimate 数值预测。CDF 仅在问题给出取值范围时生成
type NumericEstimate struct {
	Percentiles []PercentileValue `json:"percentiles"`
	CDF         []float64         `json:"cdf,omitempty"`
}

// NumericForecaster 数值题和离散题预测
type NumericForecaster struct {
	engine
}

// NewNumericForecaster 创建数值题 Forecaster
func NewNumericForecaster(client llm.Client, opts Options, log logrus.FieldLogger) *NumericForecaster {
	return &NumericForecaster{engine: newEngine(model.Numeric, client, opts, log)}
}

// Forecast 执行 numRuns 次预测，按分位点取均值后保证单调
func (f *NumericForecaster) Forecast(ctx context.Context, q *model.Question, report string, numRuns int) (*Prediction[NumericEstimate], error) {
	if err := checkType(q, model.Numeric, model.Discrete); err != nil {
		return nil, err
	}
	n := f.runs(numRuns)
	log := f.log.WithFields(logrus.Fields{"question_id": q.ID, "type": q.Type, "runs": n})

	report = f.ensureReport(ctx, q, report, log)
	outcomes := run(ctx, &f.engine, buildNumericPrompt(q, report, f.opts.Now()), n, parsePercentiles)

	estimates, err := collect(&f.engine, q, outcomes, log)
	if err != nil {
		return nil, err
	}
	runs := make([][]PercentileValue, len(estimates))
	for i, e := range estimates {
		runs[i] = e.Percentiles
	}
	agg, err := AggregatePercentiles(runs)
	if err != nil {
		return nil, err
	}

	est := NumericEstimate{Percentiles: agg}
	if spec, ok := CDFSpecFor(q); ok {
		cdf, err := BuildCDF(agg, spec)
		if err != nil {
			log.Warnf("CDF 生成失败: %v", err)
		} else {
			est.CDF = cdf
		}
	}

	text := comment("Mean Percentiles: "+formatPercentiles(agg), outcomes, func(e NumericEstimate) string {
		return "Extracted Percentiles: " + formatPercentiles(e.Percentiles)
	})
	log.WithField("ok", len(estimates)).Infof("数值题预测完成: %s", formatPercentiles(agg))
	return newPrediction(&f.engine, q, est, text, outcomes), nil
}

func parsePercentiles(text string) (NumericEstimate, error) {
	m, err := extract.Percentiles(text)
	if err != nil {
		return NumericEstimate{}, err
	}
	out := make([]PercentileValue, 0, len(m))
	for _, p := range extract.SortedKeys(m) {
		out = append(out, PercentileValue{Percentile: p, Value: m[p]})
	}
	return NumericEstimate{Percentiles: out}, nil
}

// AggregatePercentiles 对所有运行都给出的分位点取均值，
// 再把低于前一个分位点的值抬高到前一个值，保证结果单调不减
func AggregatePercentiles(runs [][]PercentileValue) ([]PercentileValue, error) {
	if len(runs) == 0 {
		return nil, ErrNoUsableEstimate
	}

	counts := make(map[int]int)
	values := make(map[int][]float64)
	for _, r := range runs {
		seen := make(map[int]bool, len(r))
		for _, pv := range r {
			if seen[pv.Percentile] {
				continue
			}
			seen[pv.Percentile] = true
			counts[pv.Percentile]++
			values[pv.Percentile] = append(values[pv.Percentile], pv.Value)
		}
	}

	var keys []int
	for k, c := range counts {
		if c == len(runs) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: runs share no percentiles", ErrNoUsableEstimate)
	}
	sort.Ints(keys)

	out := make([]PercentileValue, 0, len(keys))
	for i, k := range keys {
		mean, err := stats.Mean(values[k])
		if err != nil {
			return nil, fmt.Errorf("aggregate percentile %d: %w", k, err)
		}
		if i > 0 && mean < out[i-1].Value {
			mean = out[i-1].Value
		}
		out = append(out, PercentileValue{Percentile: k, Value: mean})
	}
	return out, nil
}

func formatPercentiles(ps []PercentileValue) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = fmt.Sprintf("P%d=%g", p.Percentile, p.Value)
	}
	return strings.Join(parts, ", ")
}
