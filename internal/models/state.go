package models

import "time"

// RunStateVersion is bumped whenever the checkpoint layout changes.
const RunStateVersion = 1

// RunState 定义了需要持久化的所有关键数据, 用于暂停后恢复一次模拟或实盘跟踪
type RunState struct {
	RunID          string                `json:"run_id"`           // 回测或实盘部署的唯一标识符
	Version        int                   `json:"version"`          // 状态模型的版本号，用于未来迁移
	InitialCapital float64               `json:"initial_capital"`  // 初始资金 (生命周期内不变)
	Checkpoint     SerializablePortfolio `json:"checkpoint"`       // 组合检查点, 不含估值
	Drawdown       DrawdownState         `json:"drawdown"`         // 回撤追踪状态
	TickCount      int                   `json:"tick_count"`       // 已处理的 tick 数量
	LastTickTime   time.Time             `json:"last_tick_time"`   // 最后处理的 tick 时间
	LastUpdateTime time.Time             `json:"last_update_time"` // 状态最后更新的时间戳
}
