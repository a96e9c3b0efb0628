package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"backtest-drift-monitor/internal/models"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvDBPath      = "DRIFTMON_DB_PATH"
	EnvJournalPath = "DRIFTMON_JOURNAL_PATH"
	EnvNATSURL     = "DRIFTMON_NATS_URL"
	EnvLogLevel    = "DRIFTMON_LOG_LEVEL"
)

// LoadConfig 从指定路径加载配置文件 (.yaml/.yml 用 YAML, 其余按 JSON 解析),
// 应用环境变量覆盖并校验
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	ApplyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any DRIFTMON_* variables present in the
// environment (typically loaded from .env by godotenv).
func ApplyEnv(cfg *models.Config) {
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvJournalPath); v != "" {
		cfg.JournalPath = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		cfg.Audit.NATSURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogConfig.Level = v
	}
}

// Validate checks if the configuration is valid
func Validate(cfg *models.Config) error {
	if cfg.DBPath == "" {
		return errors.New("db_path is required")
	}
	if cfg.Backtest.InitialCapital <= 0 {
		return errors.New("backtest.initial_capital must be positive")
	}
	if cfg.Backtest.CheckpointInterval < 0 {
		return errors.New("backtest.checkpoint_interval must not be negative")
	}
	if cfg.Backtest.FeeRate < 0 || cfg.Backtest.SlippageRate < 0 {
		return errors.New("backtest fee_rate and slippage_rate must not be negative")
	}
	if cfg.Backtest.GridSpacing < 0 || cfg.Backtest.GridSpacing >= 1 {
		return errors.New("backtest.grid_spacing must be in [0, 1)")
	}
	if cfg.Drift.WindowDays < 0 {
		return errors.New("drift.window_days must not be negative")
	}
	if _, err := cfg.Drift.ParseInterval(); err != nil {
		return fmt.Errorf("drift.interval: %w", err)
	}
	switch strings.ToLower(cfg.LogConfig.Output) {
	case "", "console", "file", "both":
	default:
		return fmt.Errorf("log.output must be console, file or both, got %q", cfg.LogConfig.Output)
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *models.Config {
	return &models.Config{
		DBPath:      "./data/driftmon",
		JournalPath: "./data/backtest.sqlite",
		LogConfig: models.LogConfig{
			Level:      "info",
			Output:     "console",
			File:       "./logs/driftmon.log",
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Backtest: models.BacktestConfig{
			InitialCapital:     10000,
			CheckpointInterval: 500,
			FeeRate:            0.001,
		},
		Drift: models.DriftConfig{
			WindowDays: 30,
		},
		Audit: models.AuditConfig{
			Subject: "driftmon.audit",
		},
	}
}
