package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/config"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/question"
)

func newResearchCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		backend  string
		title    string
		criteria string
		field    string
	)
	cmd := &cobra.Command{
		Use:   "research [question-id]",
		Short: "Run the research pipeline for one question and print the report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if backend != "" {
				cfg.Forecast.ResearchBackend = backend
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			q := model.Question{Title: title, Details: model.Details{ResolutionCriteria: criteria, Field: field}}
			if len(args) == 1 {
				qs, err := question.Load(cfg.Forecast.QuestionsFile)
				if err != nil {
					return err
				}
				found, err := question.Find(qs, args[0])
				if err != nil {
					return err
				}
				q = *found
			}
			if q.Title == "" {
				return errors.New("either a question id or --title is required")
			}
			return runResearch(cmd.Context(), newApp(cfg), q, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "model backend for research: hosted or local")
	cmd.Flags().StringVar(&title, "title", "", "free-form question to research")
	cmd.Flags().StringVar(&criteria, "criteria", "", "resolution criteria for --title")
	cmd.Flags().StringVar(&field, "field", "", "field hint for --title")
	return cmd
}

// runResearch 只为调研打开需要的后端
func runResearch(ctx context.Context, a *app, q model.Question, out io.Writer) error {
	// 调研不需要预测后端
	a.cfg.Forecast.Backend = a.researchBackend()
	return a.withClients(ctx, func(ctx context.Context, c clients) error {
		provider, err := a.researchProvider(c.research)
		if err != nil {
			return err
		}
		report, err := provider.Run(ctx, q.Title, q.Details)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, report)
		return err
	})
}
