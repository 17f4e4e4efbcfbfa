package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/config"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/extract"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/logger"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/search"
)

// Options 流水线选项
type Options struct {
	Model       string
	Temperature *float64
	MaxEntities int
	// NewsTarget 期望的新闻条数，不是硬性下限
	NewsTarget int
	NewsDays   int

	// Searcher 为空时新闻阶段只依赖模型
	Searcher search.Searcher
	// Fetch 为空时不抓取正文
	Fetch search.Fetcher
	Now   func() time.Time
}

// OptionsFromConfig 从配置构造选项
func OptionsFromConfig(cfg config.ResearchConfig) Options {
	return Options{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxEntities: cfg.MaxEntities,
		NewsTarget:  cfg.NewsTarget,
		NewsDays:    cfg.NewsDays,
	}
}

// Pipeline 五阶段调研流水线
type Pipeline struct {
	client llm.Client
	opts   Options
	log    logrus.FieldLogger
}

// Ensure Pipeline implements Provider
var _ Provider = (*Pipeline)(nil)

// NewPipeline 创建流水线
func NewPipeline(client llm.Client, opts Options, log logrus.FieldLogger) *Pipeline {
	if opts.MaxEntities <= 0 {
		opts.MaxEntities = 8
	}
	if opts.NewsTarget <= 0 {
		opts.NewsTarget = 15
	}
	if opts.NewsDays <= 0 {
		opts.NewsDays = 7
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		client: client,
		opts:   opts,
		log:    logger.Or(log),
	}
}

// Run 执行调研并返回报告
func (p *Pipeline) Run(ctx context.Context, question string, details model.Details) (string, error) {
	rc, err := p.Execute(ctx, question, details)
	if err != nil {
		return "", err
	}
	return rc.Report, nil
}

// Execute 执行调研并返回各阶段的完整结果
func (p *Pipeline) Execute(ctx context.Context, question string, details model.Details) (*Context, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	rc := &Context{Question: question, Details: details}
	log := p.log.WithField("question", truncate(question, 80))
	log.Info("开始调研")

	steps := []struct {
		stage Stage
		run   func(context.Context, *Context) error
	}{
		{StageClassify, p.classify},
		{StageEntities, p.identifyEntities},
		{StageAnalyze, p.analyzeEntities},
		{StageNews, p.searchNews},
		{StageSynthesize, p.synthesize},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Stage: step.stage, Err: err}
		}
		start := time.Now()
		if err := step.run(ctx, rc); err != nil {
			return nil, &StageError{Stage: step.stage, Err: err}
		}
		log.WithFields(logrus.Fields{
			"stage":   step.stage.String(),
			"elapsed": time.Since(start).Round(time.Millisecond),
		}).Infof("[Step %d/%d] 完成", int(step.stage), int(StageSynthesize))
	}
	return rc, nil
}

func (p *Pipeline) invoke(ctx context.Context, prompt string) (string, error) {
	return p.client.Invoke(ctx, llm.Request{
		Prompt:      prompt,
		Model:       p.opts.Model,
		Temperature: p.opts.Temperature,
	})
}

// classify 阶段 1：失败或解析不到领域时回退到 general
func (p *Pipeline) classify(ctx context.Context, rc *Context) error {
	hint := rc.Details.Field
	if hint == "" {
		hint = "Not provided"
	}
	text, err := p.invoke(ctx, fmt.Sprintf(classifyPrompt, rc.Question, hint))
	if err != nil {
		p.log.WithField("stage", StageClassify.String()).Warnf("分类失败，使用 %s: %v", GeneralField, err)
		rc.Field = GeneralField
		return nil
	}

	rc.Field = strings.ToLower(strings.Trim(extract.Labeled(text, "Field"), " .*"))
	rc.FieldRationale = extract.Labeled(text, "Rationale")
	if rc.Field == "" {
		rc.Field = GeneralField
	}
	return nil
}

// identifyEntities 阶段 2：空列表是合法结果
func (p *Pipeline) identifyEntities(ctx context.Context, rc *Context) error {
	text, err := p.invoke(ctx, fmt.Sprintf(entitiesPrompt, rc.Field, rc.Question, p.opts.MaxEntities))
	if err != nil {
		p.log.WithField("stage", StageEntities.String()).Warnf("实体识别失败: %v", err)
		rc.Entities = nil
		return nil
	}

	seen := make(map[string]struct{})
	for _, item := range extract.ListItems(text) {
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		rc.Entities = append(rc.Entities, item)
		if len(rc.Entities) >= p.opts.MaxEntities {
			break
		}
	}
	return nil
}

// analyzeEntities 阶段 3：实体之间并发分析，失败的实体跳过，结果保持实体顺序
func (p *Pipeline) analyzeEntities(ctx context.Context, rc *Context) error {
	if len(rc.Entities) == 0 {
		return nil
	}

	slots := make([]*EntityAnalysis, len(rc.Entities))
	var wg sync.WaitGroup
	for i, entity := range rc.Entities {
		wg.Add(1)
		go func(i int, entity string) {
			defer wg.Done()
			text, err := p.invoke(ctx, fmt.Sprintf(analyzePrompt, rc.Question, rc.Field, entity))
			if err != nil {
				p.log.WithFields(logrus.Fields{
					"stage":  StageAnalyze.String(),
					"entity": entity,
				}).Warnf("实体分析失败，跳过: %v", err)
				return
			}
			slots[i] = &EntityAnalysis{Entity: entity, Analysis: strings.TrimSpace(text)}
		}(i, entity)
	}
	wg.Wait()

	for _, a := range slots {
		if a != nil {
			rc.EntityAnalysis = append(rc.EntityAnalysis, *a)
		}
	}
	return nil
}

// synthesize 阶段 5：失败即整次调研失败
func (p *Pipeline) synthesize(ctx context.Context, rc *Context) error {
	text, err := p.invoke(ctx, fmt.Sprintf(synthesizePrompt,
		rc.Question,
		orNone(rc.Details.ResolutionCriteria),
		orNone(rc.Details.FinePrint),
		rc.Field,
		formatAnalysis(rc),
		formatNews(rc.NewsItems),
	))
	if err != nil {
		return err
	}
	rc.Report = strings.TrimSpace(text)
	return nil
}

func formatAnalysis(rc *Context) string {
	if len(rc.EntityAnalysis) == 0 {
		if len(rc.Entities) == 0 {
			return "No specific entities identified."
		}
		return "Entities identified (no detailed analysis available): " + strings.Join(rc.Entities, ", ")
	}
	var sb strings.Builder
	for _, a := range rc.EntityAnalysis {
		fmt.Fprintf(&sb, "### %s\n%s\n\n", a.Entity, a.Analysis)
	}
	return strings.TrimSpace(sb.String())
}

func formatNews(items []model.NewsItem) string {
	if len(items) == 0 {
		return "No recent news items were found."
	}
	var sb strings.Builder
	for i, it := range items {
		fmt.Fprintf(&sb, "%d. %s", i+1, it.Title)
		if it.PubDate != "" {
			fmt.Fprintf(&sb, " (%s)", it.PubDate)
		}
		if it.Content != "" {
			fmt.Fprintf(&sb, ": %s", truncate(it.Content, 600))
		}
		sb.WriteByte('\n')
	}
	return strings.TrimSpace(sb.String())
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None provided."
	}
	return s
}

// truncate 按 rune 截断
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
