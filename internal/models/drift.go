package models

import "time"

// DriftType names the metric a drift detector compares.
type DriftType string

const (
	DriftSharpe      DriftType = "sharpe_ratio"
	DriftReturn      DriftType = "cumulative_return"
	DriftMaxDrawdown DriftType = "max_drawdown"
	DriftWinRate     DriftType = "win_rate"
	DriftVolatility  DriftType = "volatility"
)

// Severity is the escalation tier of an alert. SeverityLow is never attached
// to a raised alert; below the medium threshold detectors report nothing.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for sorting and comparison.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ResolutionType records how an alert was closed.
type ResolutionType string

const (
	ResolutionManual        ResolutionType = "manual"
	ResolutionAutoDemotion  ResolutionType = "auto_demotion"
	ResolutionFalsePositive ResolutionType = "false_positive"
	ResolutionSelfCorrected ResolutionType = "self_corrected"
)

// AlertMetadata carries detector-specific context for an alert.
type AlertMetadata struct {
	Recommendation string             `json:"recommendation"`
	HardOverride   string             `json:"hard_override,omitempty"`
	Details        map[string]float64 `json:"details,omitempty"`
}

// DriftAlert is created by a detector and is immutable apart from the
// resolution fields.
type DriftAlert struct {
	ID               string         `json:"id"`
	DeploymentID     string         `json:"deployment_id"`
	DriftType        DriftType      `json:"drift_type"`
	Severity         Severity       `json:"severity"`
	ExpectedValue    float64        `json:"expected_value"`
	ActualValue      float64        `json:"actual_value"`
	DeviationPercent float64        `json:"deviation_percent"`
	Threshold        float64        `json:"threshold"`
	Message          string         `json:"message"`
	Metadata         AlertMetadata  `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
	Resolved         bool           `json:"resolved"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	ResolutionType   ResolutionType `json:"resolution_type,omitempty"`
	ResolutionNotes  string         `json:"resolution_notes,omitempty"`
}
