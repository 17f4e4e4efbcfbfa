package forecast

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/extract"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/logger"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

var colors = []string{"Red", "Green", "Blue"}

func mcQuestion() *model.Question {
	return &model.Question{
		ID:      "7",
		Type:    model.MultipleChoice,
		Title:   "Which color wins?",
		Options: colors,
	}
}

func sum(d Distribution) float64 {
	total := 0.0
	for _, v := range d {
		total += v
	}
	return total
}

func TestMultipleChoiceForecaster_Average(t *testing.T) {
	client := &stubClient{replies: texts(
		"Thinking.\nRed: 50%\nGreen: 30%\nBlue: 20%",
		"Thinking.\nRed: 20%\nGreen: 30%\nBlue: 50%",
	)}
	f := NewMultipleChoiceForecaster(client, fixedOpts(), logger.Discard())

	pred, err := f.Forecast(context.Background(), mcQuestion(), "r", 2)
	require.NoError(t, err)

	assert.InDelta(t, 0.35, pred.Estimate["Red"], 1e-9)
	assert.InDelta(t, 0.30, pred.Estimate["Green"], 1e-9)
	assert.InDelta(t, 0.35, pred.Estimate["Blue"], 1e-9)
	assert.InDelta(t, 1, sum(pred.Estimate), 1e-6)
	assert.Contains(t, pred.Comment, "Average Probability Per Option: Red=35.00%")
	assert.Contains(t, client.prompts[0], "Red: Probability_Red")
}

func TestMultipleChoiceForecaster_TooFewOptions(t *testing.T) {
	q := mcQuestion()
	q.Options = []string{"Only"}
	f := NewMultipleChoiceForecaster(&stubClient{replies: texts("Only: 100%")}, fixedOpts(), logger.Discard())

	_, err := f.Forecast(context.Background(), q, "r", 1)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestMultipleChoiceForecaster_RejectsDuplicateOptions(t *testing.T) {
	for name, opts := range map[string][]string{
		"duplicate": {"A", "A", "B"},
		"empty":     {"A", " ", "B"},
	} {
		t.Run(name, func(t *testing.T) {
			client := &stubClient{replies: texts("A: 30%\nA: 30%\nB: 40%")}
			q := mcQuestion()
			q.Options = opts
			f := NewMultipleChoiceForecaster(client, fixedOpts(), logger.Discard())

			pred, err := f.Forecast(context.Background(), q, "r", 1)
			assert.ErrorIs(t, err, ErrInvalidOptions)
			assert.Nil(t, pred)
			assert.Empty(t, client.prompts)
		})
	}
}

func TestNormalizeRun_DuplicateOptions(t *testing.T) {
	_, err := NormalizeRun([]string{"A", "A", "B"}, []float64{30, 30, 40})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = AggregateDistributions([]string{"A", "A", "B"}, []Distribution{{"A": 0.3, "B": 0.4}})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestNormalizeRun(t *testing.T) {
	d, err := NormalizeRun(colors, []float64{0, 50, 50})
	require.NoError(t, err)
	assert.InDelta(t, 0.01/1.01, d["Red"], 1e-9)
	assert.InDelta(t, 0.5/1.01, d["Green"], 1e-9)
	assert.InDelta(t, 1, sum(d), 1e-9)

	d, err = NormalizeRun(colors, []float64{2, 1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, d["Red"], 1e-9)

	_, err = NormalizeRun(colors, []float64{-1, 1, 1})
	assert.ErrorIs(t, err, extract.ErrNoEstimate)

	_, err = NormalizeRun(colors, []float64{0, 0, 0})
	assert.ErrorIs(t, err, extract.ErrNoEstimate)

	_, err = NormalizeRun(colors, []float64{1, 1})
	assert.ErrorIs(t, err, extract.ErrNoEstimate)
}

func TestAggregateDistributions_SumsToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 300; trial++ {
		options := make([]string, 2+rng.Intn(6))
		for i := range options {
			options[i] = string(rune('A' + i))
		}
		dists := make([]Distribution, 1+rng.Intn(5))
		for i := range dists {
			raw := make([]float64, len(options))
			for j := range raw {
				raw[j] = rng.Float64() * 100
			}
			raw[0] += 1
			d, err := NormalizeRun(options, raw)
			require.NoError(t, err)
			dists[i] = d
		}
		agg, err := AggregateDistributions(options, dists)
		require.NoError(t, err)
		assert.InDelta(t, 1, sum(agg), 1e-6, "trial %d", trial)
		for _, v := range agg {
			assert.Greater(t, v, 0.0)
		}
	}

	_, err := AggregateDistributions(colors, nil)
	assert.ErrorIs(t, err, ErrNoUsableEstimate)
}
