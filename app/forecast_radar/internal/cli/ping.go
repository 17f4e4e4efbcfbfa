package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/config"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm/local"
)

const pingPrompt = "Reply with the single word OK."

func newPingCmd(load func() (*config.Config, error)) *cobra.Command {
	var backends []string
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the configured model backends respond",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if len(backends) == 0 {
				backends = []string{cfg.Forecast.Backend}
			}
			return runPing(cmd.Context(), newApp(cfg), backends, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVar(&backends, "backend", nil, "backends to check: hosted, local (default: forecast.backend)")
	return cmd
}

// runPing 逐个检查后端，任一失败时返回错误
func runPing(ctx context.Context, a *app, backends []string, out io.Writer) error {
	var failed []string
	for _, b := range backends {
		err := a.ping(ctx, b)
		if err != nil {
			failed = append(failed, b)
			fmt.Fprintf(out, "%-7s FAIL %v\n", b, err)
			continue
		}
		fmt.Fprintf(out, "%-7s OK\n", b)
	}
	if len(failed) > 0 {
		return fmt.Errorf("backends not reachable: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (a *app) ping(ctx context.Context, backend string) error {
	switch backend {
	case backendHosted:
		c, err := a.hostedClient(ctx)
		if err != nil {
			return err
		}
		_, err = c.Invoke(ctx, llm.Request{Prompt: pingPrompt})
		return err
	case backendLocal:
		lc, err := local.FromConfig(a.cfg, a.gate, a.log)
		if err != nil {
			return err
		}
		if err := lc.HealthCheck(ctx); err != nil {
			return err
		}
		return lc.WithSession(ctx, func(ctx context.Context, s *local.Session) error {
			_, err := s.Invoke(ctx, llm.Request{Prompt: pingPrompt})
			return err
		})
	default:
		return fmt.Errorf("unknown backend: %s", backend)
	}
}
