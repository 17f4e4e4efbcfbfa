package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/config"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/output"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/question"
)

type forecastFlags struct {
	runs      int
	backend   string
	ids       []string
	questions string
	output    string
	html      string
	all       bool
}

func newForecastCmd(load func() (*config.Config, error)) *cobra.Command {
	var f forecastFlags
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Research and forecast every question in the questions file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}
			return runForecast(cmd.Context(), newApp(cfg), f.ids, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&f.runs, "runs", 0, "independent runs per question (default from config)")
	cmd.Flags().StringVar(&f.backend, "backend", "", "model backend: hosted or local")
	cmd.Flags().StringSliceVar(&f.ids, "ids", nil, "only forecast these question ids")
	cmd.Flags().StringVar(&f.questions, "questions", "", "questions file (default from config)")
	cmd.Flags().StringVar(&f.output, "output", "", "JSONL output file (default from config)")
	cmd.Flags().StringVar(&f.html, "html", "", "HTML summary file (default from config)")
	cmd.Flags().BoolVar(&f.all, "all", false, "include questions marked already_forecasted")
	return cmd
}

// apply 用命令行参数覆盖配置后重新校验
func (f *forecastFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("runs") {
		cfg.Forecast.NumRuns = f.runs
	}
	if f.backend != "" {
		cfg.Forecast.Backend = f.backend
	}
	if f.questions != "" {
		cfg.Forecast.QuestionsFile = f.questions
	}
	if f.output != "" {
		cfg.Output.File = f.output
	}
	if f.html != "" {
		cfg.Output.HTMLFile = f.html
	}
	if f.all {
		cfg.Forecast.SkipPreviouslyForecasted = false
	}
	return cfg.Validate()
}

// runForecast 并发预测选中的问题，逐条写入 JSONL，有失败时返回错误
func runForecast(ctx context.Context, a *app, ids []string, out io.Writer) error {
	cfg := a.cfg
	all, err := question.Load(cfg.Forecast.QuestionsFile)
	if err != nil {
		return err
	}
	selected, skipped, err := question.Select(all, ids, cfg.Forecast.SkipPreviouslyForecasted)
	if err != nil {
		return err
	}
	a.log.Infof("共 %d 个问题，跳过 %d 个已预测的问题", len(selected), skipped)

	w, err := output.NewJSONWriter(cfg.Output.File)
	if err != nil {
		return err
	}
	defer w.Close()

	records := make([]model.ForecastRecord, len(selected))
	err = a.withClients(ctx, func(ctx context.Context, c clients) error {
		provider, err := a.researchProvider(c.research)
		if err != nil {
			return err
		}
		r := newRunner(c.forecast, cfg.Forecast, provider, a.log)

		// 单个问题失败不影响其他问题，只有写文件失败才中止
		var g errgroup.Group
		g.SetLimit(max(cfg.Concurrency.Questions, 1))
		for i, q := range selected {
			i, q := i, q
			g.Go(func() error {
				log := a.log.WithField("question_id", q.ID)
				log.Infof("正在预测: %s", q.Title)
				records[i] = r.forecast(ctx, q)
				if records[i].Error != "" {
					log.Errorf("预测失败: %s", records[i].Error)
				}
				return w.Write(records[i])
			})
		}
		return g.Wait()
	})
	if err != nil {
		return err
	}

	summary := output.NewSummary(time.Now(), records, skipped)
	printSummary(out, summary)
	if cfg.Output.HTMLFile != "" {
		if err := output.WriteHTML(cfg.Output.HTMLFile, summary); err != nil {
			a.log.Errorf("生成 HTML 失败: %v", err)
		} else {
			a.log.Infof("HTML 汇总已生成: %s", cfg.Output.HTMLFile)
		}
	}
	a.log.Infof("✅ 预测完成: 成功 %d, 失败 %d, 结果已写入 %s", summary.Succeeded, summary.Failed, cfg.Output.File)

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d forecasts failed", summary.Failed, summary.Total)
	}
	return nil
}

func printSummary(out io.Writer, s output.Summary) {
	fmt.Fprintf(out, "Forecasted %d questions (%d succeeded, %d failed, %d skipped)\n", s.Total, s.Succeeded, s.Failed, s.Skipped)
	for _, r := range s.Records {
		if r.Error != "" {
			fmt.Fprintf(out, "  [FAIL] %s %s: %s\n", r.QuestionID, r.Title, r.Error)
			continue
		}
		head, _, _ := strings.Cut(r.Comment, "\n")
		fmt.Fprintf(out, "  [ OK ] %s %s: %s\n", r.QuestionID, r.Title, head)
	}
}
