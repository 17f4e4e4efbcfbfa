// Package cli 定义 forecast_radar 的命令行入口。
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/config"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/logger"
)

// DefaultConfigPath 未指定 --config 时读取的配置文件
const DefaultConfigPath = "configs/config.yaml"

// NewRootCmd 创建根命令及全部子命令
func NewRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "forecast_radar",
		Short:         "Research and forecast questions with hosted or local LLMs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", DefaultConfigPath, "config file")

	load := func() (*config.Config, error) {
		return loadConfig(cfgFile)
	}
	root.AddCommand(
		newForecastCmd(load),
		newResearchCmd(load),
		newPingCmd(load),
	)
	return root
}

// Execute 执行根命令
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// loadConfig 加载 .env、配置文件并初始化日志
func loadConfig(path string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("无法加载配置文件: %w", err)
	}
	if err := logger.InitLogger(cfg.Log.Level, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("无法初始化日志: %w", err)
	}
	return cfg, nil
}
