package forecast

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/gate"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/logger"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

type reply struct {
	text string
	err  error
}

// stubClient 按调用顺序返回预设回复
type stubClient struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	prompts []string
}

func (s *stubClient) Invoke(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, req.Prompt)
	s.mu.Unlock()
	r := s.replies[i%len(s.replies)]
	return r.text, r.err
}

func texts(ss ...string) []reply {
	out := make([]reply, len(ss))
	for i, s := range ss {
		out[i] = reply{text: s}
	}
	return out
}

var exhausted = &llm.ExhaustedRetriesError{Backend: "hosted", Model: "m", Attempts: 3, Last: llm.ErrEmptyResponse}

type stubResearch struct {
	calls  atomic.Int64
	report string
	err    error
}

func (r *stubResearch) Run(ctx context.Context, question string, details model.Details) (string, error) {
	r.calls.Add(1)
	return r.report, r.err
}

func fixedOpts() Options {
	return Options{Now: func() time.Time { return time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC) }}
}

func binaryQuestion() *model.Question {
	return &model.Question{
		ID:    "578",
		Type:  model.Binary,
		Title: "Will humans go extinct before 2100?",
		Details: model.Details{
			ResolutionCriteria: "Resolves Yes if there are no known humans alive on January 1, 2100.",
		},
	}
}

func TestBinaryForecaster_MeanOfRuns(t *testing.T) {
	client := &stubClient{replies: texts("Probability: 60%", "Probability: 80%", "Probability: 70%")}
	f := NewBinaryForecaster(client, fixedOpts(), logger.Discard())

	pred, err := f.Forecast(context.Background(), binaryQuestion(), "some research", 3)
	require.NoError(t, err)

	assert.InDelta(t, 0.7, pred.Estimate, 1e-9)
	assert.Equal(t, 3, pred.Succeeded())
	assert.Equal(t, 3, client.calls)
	assert.NotEmpty(t, pred.ID)
	assert.Equal(t, "578", pred.QuestionID)
	assert.True(t, strings.HasPrefix(pred.Comment, "Mean Probability: 70.00%"))
	for _, h := range []string{"## Rationale 1", "## Rationale 2", "## Rationale 3"} {
		assert.Contains(t, pred.Comment, h)
	}
	assert.Contains(t, client.prompts[0], "some research")
	assert.Contains(t, client.prompts[0], "Today is 2025-03-08.")
}

func TestBinaryForecaster_PartialFailures(t *testing.T) {
	client := &stubClient{replies: []reply{
		{err: exhausted},
		{text: "I refuse to give a number."},
		{text: "Probability: 40%"},
	}}
	f := NewBinaryForecaster(client, fixedOpts(), logger.Discard())

	pred, err := f.Forecast(context.Background(), binaryQuestion(), "r", 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, pred.Estimate, 1e-9)
	assert.Equal(t, 1, pred.Succeeded())
	assert.Equal(t, 2, pred.Failed())

	var parseErrs, invokeErrs int
	for _, o := range pred.Outcomes {
		var pe *ParseError
		switch {
		case o.OK():
		case errors.As(o.Err, &pe):
			parseErrs++
			assert.Equal(t, o.Run, pe.Run)
		case errors.Is(o.Err, llm.ErrNoUsableResponse):
			invokeErrs++
		}
	}
	assert.Equal(t, 1, parseErrs)
	assert.Equal(t, 1, invokeErrs)
	assert.Contains(t, pred.Comment, "Run failed")
}

func TestBinaryForecaster_AllRunsFail(t *testing.T) {
	client := &stubClient{replies: []reply{{err: exhausted}}}
	f := NewBinaryForecaster(client, fixedOpts(), logger.Discard())

	pred, err := f.Forecast(context.Background(), binaryQuestion(), "r", 4)
	assert.Nil(t, pred)
	require.Error(t, err)

	var agg *AggregationError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, 4, agg.Runs)
	assert.Len(t, agg.Failures, 4)
	assert.ErrorIs(t, err, ErrNoUsableEstimate)
	assert.ErrorIs(t, err, llm.ErrNoUsableResponse)
	assert.Equal(t, 4, client.calls)
}

func TestBinaryForecaster_ResearchOnlyWhenNoReport(t *testing.T) {
	rs := &stubResearch{report: "RESEARCH-REPORT"}
	opts := fixedOpts()
	opts.Research = rs
	client := &stubClient{replies: texts("Probability: 30%")}
	f := NewBinaryForecaster(client, opts, logger.Discard())

	_, err := f.Forecast(context.Background(), binaryQuestion(), "", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rs.calls.Load())
	assert.Contains(t, client.prompts[0], "RESEARCH-REPORT")

	_, err = f.Forecast(context.Background(), binaryQuestion(), "given report", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rs.calls.Load())
}

func TestBinaryForecaster_ResearchFailureDegrades(t *testing.T) {
	opts := fixedOpts()
	opts.Research = &stubResearch{err: errors.New("synthesis failed")}
	client := &stubClient{replies: texts("Probability: 30%")}
	f := NewBinaryForecaster(client, opts, logger.Discard())

	pred, err := f.Forecast(context.Background(), binaryQuestion(), "", 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, pred.Estimate, 1e-9)
	assert.Contains(t, client.prompts[0], noResearch)
}

func TestBinaryForecaster_DefaultRuns(t *testing.T) {
	opts := fixedOpts()
	opts.NumRuns = 5
	client := &stubClient{replies: texts("Probability: 50%")}
	f := NewBinaryForecaster(client, opts, logger.Discard())

	pred, err := f.Forecast(context.Background(), binaryQuestion(), "r", 0)
	require.NoError(t, err)
	assert.Len(t, pred.Outcomes, 5)
}

func TestBinaryForecaster_WrongType(t *testing.T) {
	f := NewBinaryForecaster(&stubClient{replies: texts("x")}, fixedOpts(), logger.Discard())
	q := binaryQuestion()
	q.Type = model.Numeric

	_, err := f.Forecast(context.Background(), q, "r", 1)
	assert.ErrorIs(t, err, ErrWrongType)
}

// barrierClient 只有 n 个调用同时在途时才一起返回
type barrierClient struct {
	n       int
	arrived atomic.Int64
	release chan struct{}
	once    sync.Once
}

func (b *barrierClient) Invoke(ctx context.Context, req llm.Request) (string, error) {
	if int(b.arrived.Add(1)) == b.n {
		b.once.Do(func() { close(b.release) })
	}
	select {
	case <-b.release:
		return "Probability: 25%", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestBinaryForecaster_RunsConcurrently(t *testing.T) {
	bc := &barrierClient{n: 4, release: make(chan struct{})}
	f := NewBinaryForecaster(bc, fixedOpts(), logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pred, err := f.Forecast(ctx, binaryQuestion(), "r", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, pred.Succeeded())
}

// gatedClient 经过共享 Gate 的客户端，记录最大并发
type gatedClient struct {
	g       *gate.Gate
	current atomic.Int64
	peak    atomic.Int64
}

func (c *gatedClient) Invoke(ctx context.Context, req llm.Request) (string, error) {
	var out string
	err := c.g.Do(ctx, func(ctx context.Context) error {
		n := c.current.Add(1)
		defer c.current.Add(-1)
		for {
			p := c.peak.Load()
			if n <= p || c.peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		out = "Probability: 55%"
		return nil
	})
	return out, err
}

func TestForecasters_ShareGate(t *testing.T) {
	gc := &gatedClient{g: gate.New(2)}
	f := NewBinaryForecaster(gc, fixedOpts(), logger.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pred, err := f.Forecast(context.Background(), binaryQuestion(), "r", 5)
			assert.NoError(t, err)
			if pred != nil {
				assert.InDelta(t, 0.55, pred.Estimate, 1e-9)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, gc.peak.Load(), int64(2))
}

func TestAggregateBinary_WithinRangeAndBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 500; trial++ {
		n := 1 + rng.Intn(8)
		probs := make([]float64, n)
		lo, hi := 1.0, 0.0
		for i := range probs {
			probs[i] = 0.01 + 0.98*rng.Float64()
			lo = min(lo, probs[i])
			hi = max(hi, probs[i])
		}
		got, err := AggregateBinary(probs)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, lo-1e-12)
		assert.LessOrEqual(t, got, hi+1e-12)
		assert.GreaterOrEqual(t, got, MinProbability)
		assert.LessOrEqual(t, got, MaxProbability)
	}
}

func TestAggregateBinary_Clamps(t *testing.T) {
	got, err := AggregateBinary([]float64{0.999, 0.995})
	require.NoError(t, err)
	assert.Equal(t, MaxProbability, got)

	got, err = AggregateBinary([]float64{0.001})
	require.NoError(t, err)
	assert.Equal(t, MinProbability, got)

	_, err = AggregateBinary(nil)
	assert.ErrorIs(t, err, ErrNoUsableEstimate)
}
