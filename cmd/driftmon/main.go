package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"backtest-drift-monitor/internal/audit"
	"backtest-drift-monitor/internal/config"
	"backtest-drift-monitor/internal/logger"
	"backtest-drift-monitor/internal/models"
	"backtest-drift-monitor/internal/persistence"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	cfg        *models.Config
)

// rootCmd is the base command for the driftmon CLI
var rootCmd = &cobra.Command{
	Use:   "driftmon",
	Short: "Backtest simulator and live drift monitor",
	Long: `driftmon replays price and fill series through a portfolio engine, records
backtest baselines for live deployments and raises drift alerts when live
performance diverges from them.`,
	SilenceUsage:      true,
	PersistentPreRunE: bootstrap,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the config file (.yaml or .json)")
}

// bootstrap 初始化日志, 加载 .env 与配置文件, 再按配置重建日志
func bootstrap(cmd *cobra.Command, _ []string) error {
	// 为了在加载.env或配置时就能记录日志，先使用默认配置初始化logger
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Debug("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	loaded, err := config.LoadConfig(configPath)
	switch {
	case err == nil:
		cfg = loaded
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		logger.S().Infof("配置文件 %s 不存在，使用默认配置。", configPath)
		cfg = config.Default()
		config.ApplyEnv(cfg)
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	default:
		return fmt.Errorf("无法加载配置文件: %w", err)
	}

	logger.InitLogger(cfg.LogConfig)
	return nil
}

// openStore opens the Badger database holding checkpoints, deployments,
// metrics and alerts.
func openStore() (*persistence.BadgerStore, error) {
	if err := os.MkdirAll(cfg.DBPath, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	store, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	logger.S().Debugf("Opened store at %s", cfg.DBPath)
	return store, nil
}

// newEmitter always logs audit events and additionally publishes them to NATS
// when a URL is configured. The returned func releases the NATS connection.
func newEmitter(log *zap.Logger) (audit.Emitter, func()) {
	logEmitter := audit.NewLogEmitter(log)
	if cfg.Audit.NATSURL == "" {
		return logEmitter, func() {}
	}

	natsEmitter, err := audit.NewNATSEmitter(cfg.Audit.NATSURL, cfg.Audit.Subject)
	if err != nil {
		logger.S().Warnf("无法连接 NATS (%s)，审计事件仅写入日志: %v", cfg.Audit.NATSURL, err)
		return logEmitter, func() {}
	}
	logger.S().Infof("Publishing audit events to %s on %s", cfg.Audit.NATSURL, cfg.Audit.Subject)
	return audit.MultiEmitter{logEmitter, natsEmitter}, func() {
		if err := natsEmitter.Close(); err != nil {
			logger.S().Warnf("Failed to drain NATS connection: %v", err)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	_ = logger.S().Sync() // 确保在退出时刷新所有缓冲的日志
	if err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
