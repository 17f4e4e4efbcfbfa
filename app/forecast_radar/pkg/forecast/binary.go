package forecast

import (
	"context"
	"fmt"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/extract"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

// BinaryForecaster 是非题预测，预测值为 Yes 的概率
type BinaryForecaster struct {
	engine
}

// NewBinaryForecaster 创建是非题 Forecaster
func NewBinaryForecaster(client llm.Client, opts Options, log logrus.FieldLogger) *BinaryForecaster {
	return &BinaryForecaster{engine: newEngine(model.Binary, client, opts, log)}
}

// Forecast 执行 numRuns 次预测并取均值，numRuns < 1 时使用配置值
func (f *BinaryForecaster) Forecast(ctx context.Context, q *model.Question, report string, numRuns int) (*Prediction[float64], error) {
	if err := checkType(q, model.Binary); err != nil {
		return nil, err
	}
	n := f.runs(numRuns)
	log := f.log.WithFields(logrus.Fields{"question_id": q.ID, "type": q.Type, "runs": n})

	report = f.ensureReport(ctx, q, report, log)
	outcomes := run(ctx, &f.engine, buildBinaryPrompt(q, report, f.opts.Now()), n, extract.Probability)

	probs, err := collect(&f.engine, q, outcomes, log)
	if err != nil {
		return nil, err
	}
	p, err := AggregateBinary(probs)
	if err != nil {
		return nil, err
	}

	text := comment(fmt.Sprintf("Mean Probability: %.2f%%", p*100), outcomes, func(v float64) string {
		return fmt.Sprintf("Extracted Probability: %.2f%%", v*100)
	})
	log.WithField("ok", len(probs)).Infof("是非题预测完成: %.2f%%", p*100)
	return newPrediction(&f.engine, q, p, text, outcomes), nil
}

// AggregateBinary 取均值并钳制到 [MinProbability, MaxProbability]
func AggregateBinary(probs []float64) (float64, error) {
	if len(probs) == 0 {
		return 0, ErrNoUsableEstimate
	}
	mean, err := stats.Mean(probs)
	if err != nil {
		return 0, fmt.Errorf("aggregate binary: %w", err)
	}
	return clamp(mean, MinProbability, MaxProbability), nil
}
