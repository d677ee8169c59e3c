package models

// RiskLevel bands a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders levels from LOW (0) to CRITICAL (3).
func (l RiskLevel) Rank() int {
	switch l {
	case RiskModerate:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// RiskMetrics is derived from a session and its trade history on demand.
type RiskMetrics struct {
	DrawdownPercent float64   `json:"drawdown_percent"`
	TradeFrequency  float64   `json:"trade_frequency"`
	WinRatePercent  float64   `json:"win_rate_percent"`
	TotalTrades     int       `json:"total_trades"`
	FilledTrades    int       `json:"filled_trades"`
	TotalValue      float64   `json:"total_value"`
	RiskScore       float64   `json:"risk_score"`
	RiskLevel       RiskLevel `json:"risk_level"`
}

// RiskRule names a pre-trade gating rule.
type RiskRule string

const (
	RuleNone          RiskRule = ""
	RulePositionSize  RiskRule = "MAX_POSITION_FRACTION"
	RuleDailyTradeCap RiskRule = "DAILY_TRADE_LIMIT"
	RuleDrawdownGuard RiskRule = "DRAWDOWN_GUARD"
	RuleTradingOff    RiskRule = "TRADING_DISABLED"
	RuleForceOverride RiskRule = "FORCE_OVERRIDE"
)

// RiskDecision is the outcome of gating a signal.
type RiskDecision struct {
	Approved bool     `json:"approved"`
	Rule     RiskRule `json:"rule,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Current  float64  `json:"current,omitempty"`
	Limit    float64  `json:"limit,omitempty"`
}

// RiskAssessment is the read-only risk report for the active session.
type RiskAssessment struct {
	SessionID             string      `json:"session_id"`
	Metrics               RiskMetrics `json:"metrics"`
	Recommendations       []string    `json:"recommendations"`
	EmergencyStopRequired bool        `json:"emergency_stop_required"`
	EmergencyStopReason   string      `json:"emergency_stop_reason,omitempty"`
}
