package types

import (
	"math"
	"time"
)

// Direction is the side of the market a position (or trend signal) points to.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	// DirectionNone means no trend; the entry evaluator stays flat.
	DirectionNone Direction = "NONE"
)

// Sign returns +1 for long, -1 for short and 0 for none. It is the
// multiplier used throughout the pnl and stop arithmetic.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	default:
		return 0
	}
}

// Opposite returns the reversed direction. DirectionNone maps to itself.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionNone
	}
}

// RegimeTag classifies the current market behavior and selects the entry policy.
type RegimeTag string

const (
	RegimeTrending RegimeTag = "trending"
	RegimeRanging  RegimeTag = "ranging"
	RegimeUnknown  RegimeTag = "unknown"
)

// IndicatorSet carries the precomputed per-bar indicator values the engine
// consumes. Values that are not warmed up yet are NaN.
type IndicatorSet struct {
	// Trend is the direction of the fast/slow moving-average spread.
	Trend Direction `csv:"trend"`
	// ATR is the smoothed true-range volatility estimate.
	ATR float64 `csv:"atr"`
	// Momentum is the oscillator reading (RSI scale, 0-100).
	Momentum float64 `csv:"momentum"`
	FastMA   float64 `csv:"fast_ma"`
	SlowMA   float64 `csv:"slow_ma"`
	// BandUpper and BandLower are the volatility band edges used by the
	// mean-reversion entry policy.
	BandUpper float64 `csv:"band_upper"`
	BandLower float64 `csv:"band_lower"`
	Regime    RegimeTag `csv:"regime"`
}

// Ready reports whether the trend-side indicator values are finite and usable.
// Band edges are checked separately via BandsReady since only the
// mean-reversion policy consumes them.
func (s IndicatorSet) Ready() bool {
	for _, v := range []float64{s.ATR, s.Momentum, s.FastMA, s.SlowMA} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	return true
}

// BandsReady reports whether the volatility band edges are finite.
func (s IndicatorSet) BandsReady() bool {
	for _, v := range []float64{s.BandUpper, s.BandLower} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	return true
}

// Bar is a single immutable time step of the price series.
type Bar struct {
	Time       time.Time `csv:"time"`
	Open       float64   `csv:"open"`
	High       float64   `csv:"high"`
	Low        float64   `csv:"low"`
	Close      float64   `csv:"close"`
	Volume     float64   `csv:"volume"`
	Indicators IndicatorSet
}

// Valid reports whether all four prices are finite and non-negative.
func (b Bar) Valid() bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}

	return true
}
