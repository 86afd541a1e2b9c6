package types

import "time"

// CloseReason identifies which rule produced a trade record.
type CloseReason string

const (
	// ReasonOpen marks the record emitted when a position is opened.
	ReasonOpen CloseReason = "open"
	// ReasonScaleIn marks the record emitted for the added leg of a scale-in.
	ReasonScaleIn CloseReason = "scale_in"
	// ReasonPartialTP marks a partial take-profit close.
	ReasonPartialTP CloseReason = "partial_tp"
	// ReasonStopOrTrail marks an exit at the effective stop price, whether
	// the base volatility stop or a trailing tier was the binding one.
	ReasonStopOrTrail CloseReason = "stop_or_trail"
	// ReasonSignalFlip marks a close on a confirmed reversal of the
	// directional signal.
	ReasonSignalFlip CloseReason = "signal_flip_close"
	// ReasonTimeExit marks a close because the maximum holding period was
	// exceeded.
	ReasonTimeExit CloseReason = "time_exit"
	// ReasonForcedDrawdown marks the hard retracement-from-peak exit.
	ReasonForcedDrawdown CloseReason = "forced_drawdown_exit"
)

// IsClose reports whether the reason realizes pnl against the position
// (partial or full close), as opposed to an opening leg.
func (r CloseReason) IsClose() bool {
	return r != ReasonOpen && r != ReasonScaleIn
}

// TradeRecord is one immutable row of the trade ledger. A position's
// lifecycle contributes one open record, zero or more scale-in and partial
// close records, and one terminal close record.
type TradeRecord struct {
	ID         string      `yaml:"id" csv:"id"`
	EntryTime  time.Time   `yaml:"entry_time" csv:"entry_time"`
	ExitTime   time.Time   `yaml:"exit_time" csv:"exit_time"`
	EntryPrice float64     `yaml:"entry_price" csv:"entry_price"`
	ExitPrice  float64     `yaml:"exit_price" csv:"exit_price"`
	Reason     CloseReason `yaml:"reason" csv:"reason"`
	Direction  Direction   `yaml:"direction" csv:"direction"`
	// Quantity is the size opened, added, or closed by this record.
	Quantity float64 `yaml:"quantity" csv:"quantity"`
	// MarginUsed is the margin committed to the position after this record.
	MarginUsed float64 `yaml:"margin_used" csv:"margin_used"`
	Fee        float64 `yaml:"fee" csv:"fee"`
	PnLNet     float64 `yaml:"pnl_net" csv:"pnl_net"`
	// PnLPctOnMargin is PnLNet relative to the margin the record acted on.
	// Defined as zero when that margin is zero.
	PnLPctOnMargin float64 `yaml:"pnl_pct_on_margin" csv:"pnl_pct_on_margin"`
	EquityAfter    float64 `yaml:"equity_after" csv:"equity_after"`
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time   time.Time `yaml:"time" csv:"time"`
	Equity float64   `yaml:"equity" csv:"equity"`
}
