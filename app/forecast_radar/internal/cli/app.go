package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/config"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/forecast"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/gate"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm/hosted"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm/local"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/logger"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/research"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/search"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/search/factory"
)

const (
	backendHosted = "hosted"
	backendLocal  = "local"

	fetchTimeout = 30 * time.Second
)

// newChatModel 创建托管后端的 ChatModel，测试中替换
var newChatModel = hosted.NewChatModel

// app 一次命令执行共享的配置、日志和并发闸门
type app struct {
	cfg  *config.Config
	log  logrus.FieldLogger
	gate *gate.Gate
}

func newApp(cfg *config.Config) *app {
	log := logger.Default()
	g := gate.New(cfg.Concurrency.Limit, gate.WithRate(cfg.Concurrency.RPM, cfg.Concurrency.QPS))
	log.Infof("并发闸门已配置: Limit=%d, RPM=%d, Burst=%d", cfg.Concurrency.Limit, cfg.Concurrency.RPM, cfg.Concurrency.QPS)
	return &app{cfg: cfg, log: log, gate: g}
}

// clients 预测和调研各自使用的模型客户端
type clients struct {
	forecast llm.Client
	research llm.Client
}

func (a *app) researchBackend() string {
	if a.cfg.Forecast.ResearchBackend != "" {
		return a.cfg.Forecast.ResearchBackend
	}
	return a.cfg.Forecast.Backend
}

// withClients 按需创建托管客户端和本地会话后执行 fn。
// 预测和调研都用本地后端时共享同一个会话，fn 返回后会话关闭
func (a *app) withClients(ctx context.Context, fn func(ctx context.Context, c clients) error) error {
	fb, rb := a.cfg.Forecast.Backend, a.researchBackend()
	for _, b := range []string{fb, rb} {
		if b != backendHosted && b != backendLocal {
			return fmt.Errorf("unknown backend: %s", b)
		}
	}

	var hc llm.Client
	if fb == backendHosted || rb == backendHosted {
		c, err := a.hostedClient(ctx)
		if err != nil {
			return err
		}
		hc = c
	}
	if fb != backendLocal && rb != backendLocal {
		return fn(ctx, clients{forecast: hc, research: hc})
	}

	lc, err := local.FromConfig(a.cfg, a.gate, a.log)
	if err != nil {
		return err
	}
	return lc.WithSession(ctx, func(ctx context.Context, s *local.Session) error {
		pick := func(b string) llm.Client {
			if b == backendLocal {
				return s
			}
			return hc
		}
		return fn(ctx, clients{forecast: pick(fb), research: pick(rb)})
	})
}

func (a *app) hostedClient(ctx context.Context) (*hosted.Client, error) {
	cm, err := newChatModel(ctx, a.cfg.LLM)
	if err != nil {
		return nil, err
	}
	return hosted.NewClient(cm, hosted.Settings(a.cfg), a.cfg.LLM.ModelsWithoutTemperature, a.gate, a.log), nil
}

// researchProvider 按配置创建调研实现
func (a *app) researchProvider(client llm.Client) (research.Provider, error) {
	rc := a.cfg.Research
	// 本地后端不认识托管模型名，使用本地模型
	if a.researchBackend() == backendLocal {
		rc.Model = ""
	}

	if rc.Provider == "direct" {
		return research.NewDirectProvider(client, rc.Model, rc.Temperature, a.log), nil
	}

	opts := research.OptionsFromConfig(rc)
	s, err := factory.NewSearcher(a.cfg.Search)
	if err != nil {
		return nil, fmt.Errorf("init searcher: %w", err)
	}
	if s != nil {
		opts.Searcher = s
	} else {
		a.log.Info("未配置搜索服务，新闻阶段只依赖模型")
	}
	if rc.FetchContent {
		opts.Fetch = search.ReadabilityFetcher(fetchTimeout)
	}
	return research.NewPipeline(client, opts, a.log), nil
}

// runner 按题型分派到对应的 Forecaster
type runner struct {
	binary  *forecast.BinaryForecaster
	numeric *forecast.NumericForecaster
	multi   *forecast.MultipleChoiceForecaster
	numRuns int
	now     func() time.Time
}

func newRunner(client llm.Client, cfg config.ForecastConfig, provider research.Provider, log logrus.FieldLogger) *runner {
	opts := forecast.OptionsFromConfig(cfg, provider)
	return &runner{
		binary:  forecast.NewBinaryForecaster(client, opts, log),
		numeric: forecast.NewNumericForecaster(client, opts, log),
		multi:   forecast.NewMultipleChoiceForecaster(client, opts, log),
		numRuns: cfg.NumRuns,
		now:     time.Now,
	}
}

// forecast 预测一个问题，失败也返回带 Error 的记录
func (r *runner) forecast(ctx context.Context, q model.Question) model.ForecastRecord {
	rec := model.ForecastRecord{
		QuestionID: q.ID,
		Type:       q.Type,
		Title:      q.Title,
	}

	var err error
	switch q.Type {
	case model.Binary:
		var p *forecast.Prediction[float64]
		if p, err = r.binary.Forecast(ctx, &q, "", r.numRuns); err == nil {
			fill(&rec, p)
			rec.Estimate = p.Estimate
		}
	case model.Numeric, model.Discrete:
		var p *forecast.Prediction[forecast.NumericEstimate]
		if p, err = r.numeric.Forecast(ctx, &q, "", r.numRuns); err == nil {
			fill(&rec, p)
			rec.Estimate = p.Estimate.Percentiles
			rec.CDF = p.Estimate.CDF
		}
	case model.MultipleChoice:
		var p *forecast.Prediction[forecast.Distribution]
		if p, err = r.multi.Forecast(ctx, &q, "", r.numRuns); err == nil {
			fill(&rec, p)
			rec.Estimate = p.Estimate
		}
	default:
		err = fmt.Errorf("%w: %s", forecast.ErrWrongType, q.Type)
	}

	if err != nil {
		rec.ID = uuid.NewString()
		rec.Error = err.Error()
		rec.CreatedAt = r.now()
		var agg *forecast.AggregationError
		if errors.As(err, &agg) {
			rec.RunsFailed = agg.Runs
		}
	}
	return rec
}

func fill[E any](rec *model.ForecastRecord, p *forecast.Prediction[E]) {
	rec.ID = p.ID
	rec.Comment = p.Comment
	rec.RunsOK = p.Succeeded()
	rec.RunsFailed = p.Failed()
	rec.CreatedAt = p.CreatedAt
}
