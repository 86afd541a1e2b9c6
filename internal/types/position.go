package types

import "time"

// Position is the single in-flight position record. At most one exists at a
// time; the zero value means flat.
type Position struct {
	Direction Direction
	// EntryPrice is the weighted average entry price. It is only recomputed
	// on a scale-in; partial closes keep it unchanged.
	EntryPrice float64
	EntryTime  time.Time
	// Size is the quantity of the underlying held (notional / entry price).
	Size float64
	// Margin is the capital committed; notional = margin * leverage.
	Margin float64
	// PeakPrice is the best price seen since entry: the running high for a
	// long, the running low for a short.
	PeakPrice float64
	// StopPrice is the current effective protective stop. Once a trailing
	// tier is active it only moves in the position's favor.
	StopPrice float64
	// TrailTier is the index of the active trailing tier, -1 before any
	// tier's trigger has been reached. Tiers only advance, never regress.
	TrailTier    int
	ScaledIn     bool
	PartialTaken bool
	BarsHeld     int
	// MaxSize is the largest size the position has held, scale-in included.
	MaxSize float64
	// FlipStreak counts consecutive bars whose trend signal opposes the
	// position, for the signal-flip confirmation filter.
	FlipStreak int
}

// TrailingActive reports whether any trailing tier has been reached.
func (p *Position) TrailingActive() bool {
	return p.TrailTier >= 0
}

// UpdatePeak advances the peak price using the bar's extreme in the
// favorable direction. The peak is monotonic for the life of the position.
func (p *Position) UpdatePeak(high, low float64) {
	if p.Direction == DirectionLong && high > p.PeakPrice {
		p.PeakPrice = high
	}

	if p.Direction == DirectionShort && low < p.PeakPrice {
		p.PeakPrice = low
	}
}

// GainFromEntry returns the unrealized favorable excursion measured from the
// peak price, as a fraction of the entry price. Entry price is the 100% base
// for every percentage trigger in the exit policy.
func (p *Position) GainFromEntry() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}

	return (p.PeakPrice - p.EntryPrice) / p.EntryPrice * p.Direction.Sign()
}

// DrawdownFromPeak returns the retracement of the given price from the peak,
// as a positive fraction of the peak price.
func (p *Position) DrawdownFromPeak(price float64) float64 {
	if p.PeakPrice <= 0 {
		return 0
	}

	return (p.PeakPrice - price) / p.PeakPrice * p.Direction.Sign()
}
