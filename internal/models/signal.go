package models

import "fmt"

// Action is the decision a signal carries.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// AmountUnit says which asset a signal amount is denominated in.
type AmountUnit string

const (
	UnitQuote AmountUnit = "QUOTE"
	UnitBase  AmountUnit = "BASE"
)

// ReasonCode identifies why a signal was produced.
type ReasonCode string

const (
	ReasonNoCapital        ReasonCode = "NO_CAPITAL"
	ReasonAccumulate       ReasonCode = "ACCUMULATE"
	ReasonRebalance        ReasonCode = "REBALANCE"
	ReasonTakeProfit       ReasonCode = "TAKE_PROFIT"
	ReasonSentimentBlocked ReasonCode = "SENTIMENT_BLOCKS_BUY"
	ReasonAllocationInBand ReasonCode = "ALLOCATION_IN_BAND"
	ReasonNoTokens         ReasonCode = "NO_TOKENS"
	ReasonRiskRejected     ReasonCode = "RISK_REJECTED"
	ReasonSessionNotActive ReasonCode = "SESSION_NOT_ACTIVE"
	ReasonEmergencyStop    ReasonCode = "EMERGENCY_STOP"
	ReasonExecutionFailed  ReasonCode = "EXECUTION_FAILED"
)

// Signal is the output of one strategy evaluation.
type Signal struct {
	Action     Action     `json:"action"`
	Amount     float64    `json:"amount"`
	Unit       AmountUnit `json:"unit,omitempty"`
	Reason     ReasonCode `json:"reason"`
	Detail     string     `json:"detail,omitempty"`
	Allocation float64    `json:"allocation"`
	Sentiment  Sentiment  `json:"sentiment"`
}

// Hold builds a HOLD signal with the given reason.
func Hold(reason ReasonCode, detail string) Signal {
	return Signal{Action: ActionHold, Reason: reason, Detail: detail}
}

// Text renders the signal for humans.
func (s Signal) Text() string {
	if s.Detail == "" {
		return string(s.Reason)
	}
	return fmt.Sprintf("%s: %s", s.Reason, s.Detail)
}

// IsTrade reports whether the signal asks for an order.
func (s Signal) IsTrade() bool {
	return s.Action == ActionBuy || s.Action == ActionSell
}
