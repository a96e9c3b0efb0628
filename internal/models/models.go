package models

import (
	"fmt"
	"time"
)

// Config 定义了回测与漂移监控的所有配置参数
type Config struct {
	DBPath      string         `json:"db_path" yaml:"db_path"`           // BadgerDB 目录 (检查点 + 漂移存储)
	JournalPath string         `json:"journal_path" yaml:"journal_path"` // SQLite 回测日志文件
	LogConfig   LogConfig      `json:"log" yaml:"log"`
	Backtest    BacktestConfig `json:"backtest" yaml:"backtest"`
	Drift       DriftConfig    `json:"drift" yaml:"drift"`
	Audit       AuditConfig    `json:"audit" yaml:"audit"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩旧日志文件
}

// BacktestConfig 回测引擎特定配置
type BacktestConfig struct {
	InitialCapital     float64 `json:"initial_capital" yaml:"initial_capital"`         // 初始资金
	CheckpointInterval int     `json:"checkpoint_interval" yaml:"checkpoint_interval"` // 每 N 个 tick 保存一次检查点, 0 表示仅在结束时保存
	FeeRate            float64 `json:"fee_rate" yaml:"fee_rate"`                       // 策略信号成交的手续费率
	SlippageRate       float64 `json:"slippage_rate" yaml:"slippage_rate"`             // 滑点率
	GridSpacing        float64 `json:"grid_spacing" yaml:"grid_spacing"`               // 网格间距比例, 0 表示不启用网格策略
	GridQuantity       float64 `json:"grid_quantity" yaml:"grid_quantity"`             // 每格交易数量
}

// DriftConfig 漂移检测调度与指标导出配置
type DriftConfig struct {
	Interval    string `json:"interval" yaml:"interval"`         // 周期性检测间隔, e.g. "1h"; 空表示只运行一次
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"` // Prometheus /metrics 监听地址, 空表示不导出
	WindowDays  int    `json:"window_days" yaml:"window_days"`   // 滚动统计默认窗口
}

// ParseInterval converts Interval to a time.Duration.
func (c DriftConfig) ParseInterval() (time.Duration, error) {
	if c.Interval == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Interval)
}

// AuditConfig 审计事件发布配置
type AuditConfig struct {
	NATSURL string `json:"nats_url" yaml:"nats_url"` // 为空时审计事件只写日志
	Subject string `json:"subject" yaml:"subject"`
}

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY", "buy", "Buy":
		return Buy, nil
	case "SELL", "sell", "Sell":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// Fill is a priced, pre-validated trade execution.
type Fill struct {
	Timestamp    time.Time `json:"timestamp"`
	InstrumentID string    `json:"instrument_id"`
	Side         Side      `json:"side"`
	Quantity     float64   `json:"quantity"`
	Price        float64   `json:"price"`
	Fee          float64   `json:"fee"`
}

// Signal is a strategy's trading intent before it is priced into a Fill.
type Signal struct {
	Timestamp    time.Time `json:"timestamp"`
	InstrumentID string    `json:"instrument_id"`
	Side         Side      `json:"side"`
	Quantity     float64   `json:"quantity"`
	Reason       string    `json:"reason"`
}

// Tick is one step of a simulation: the prices known at Timestamp and the
// fills executed at it.
type Tick struct {
	Timestamp time.Time          `json:"timestamp"`
	Prices    map[string]float64 `json:"prices"`
	Fills     []Fill             `json:"fills,omitempty"`
}
