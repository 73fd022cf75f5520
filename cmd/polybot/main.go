package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"polybot/internal/app"
	"polybot/internal/config"
	"polybot/internal/logger"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.toml"

// rootConfig 在各子命令之间共享。
type rootConfig struct {
	cfgPath string
	dryRun  bool
	live    bool

	cfg     *config.Config
	logFile *os.File
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}
	cmd := &cobra.Command{
		Use:           "polybot",
		Short:         "Exposure-limited prediction-market trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rc.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rc.logFile != nil {
				_ = rc.logFile.Close()
			}
		},
	}
	defPath := os.Getenv("POLYBOT_CONFIG")
	if defPath == "" {
		defPath = defaultConfigPath
	}
	cmd.PersistentFlags().StringVarP(&rc.cfgPath, "config", "c", defPath, "config file (env POLYBOT_CONFIG)")
	cmd.PersistentFlags().BoolVar(&rc.dryRun, "dry-run", false, "force paper trading")
	cmd.PersistentFlags().BoolVar(&rc.live, "live", false, "force live trading")

	cmd.AddCommand(
		newRunCmd(rc),
		newLoopCmd(rc),
		newServeCmd(rc),
		newHaltCmd(rc),
		newResumeCmd(rc),
		newStatusCmd(rc),
		newExportCmd(rc),
		newChartCmd(rc),
	)
	return cmd
}

func (rc *rootConfig) load() error {
	if rc.dryRun && rc.live {
		return fmt.Errorf("--dry-run and --live are exclusive")
	}
	cfg, err := config.Load(rc.cfgPath)
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	switch {
	case rc.dryRun:
		cfg.App.DryRun = true
	case rc.live:
		cfg.App.DryRun = false
	}
	logger.SetFormat(cfg.App.LogFormat)
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return fmt.Errorf("初始化日志文件失败: %w", err)
	}
	rc.logFile = logFile
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，config=%s）", cfg.App.Env, rc.cfgPath)
	rc.cfg = cfg
	return nil
}

func (rc *rootConfig) newApp(ctx context.Context) (*app.App, error) {
	a, err := app.NewApp(ctx, rc.cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化应用失败: %w", err)
	}
	return a, nil
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
