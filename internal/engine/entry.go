package engine

import (
	"math"

	"github.com/moznion/go-optional"
	"github.com/quantfold/leverbt/internal/types"
)

// entrySignal is a resolved entry: direction and the margin to commit.
type entrySignal struct {
	Direction types.Direction
	Margin    float64
}

// EntryEvaluator decides, on a flat bar, whether to open a position. The
// regime tag selects between the trend-following and mean-reversion
// policies; the sizing configuration turns the decision into a margin.
type EntryEvaluator struct {
	cfg *Config

	// confirmDir and confirmStreak track consecutive flat bars agreeing on
	// the trend direction, for the N-bar confirmation gate.
	confirmDir    types.Direction
	confirmStreak int
}

// NewEntryEvaluator creates an evaluator over the given configuration.
func NewEntryEvaluator(cfg *Config) *EntryEvaluator {
	return &EntryEvaluator{
		cfg:           cfg,
		confirmDir:    types.DirectionNone,
		confirmStreak: 0,
	}
}

// Reset clears the confirmation streak. Called when a position opens so the
// next flat stretch rebuilds its own confirmation.
func (e *EntryEvaluator) Reset() {
	e.confirmDir = types.DirectionNone
	e.confirmStreak = 0
}

// Evaluate returns an entry signal, or none when no condition fires. A
// non-positive computed margin or entry price refuses the entry; this is a
// policy condition, not an error.
func (e *EntryEvaluator) Evaluate(bar types.Bar, equity float64, lastWin optional.Option[bool]) optional.Option[entrySignal] {
	if equity <= 0 || bar.Close <= 0 {
		return optional.None[entrySignal]()
	}

	if e.cfg.Session.IsSome() && !e.cfg.Session.Unwrap().Contains(bar.Time) {
		return optional.None[entrySignal]()
	}

	direction := e.direction(bar)
	if direction == types.DirectionNone {
		return optional.None[entrySignal]()
	}

	margin := e.margin(equity, lastWin)
	if margin <= 0 || margin < e.cfg.Sizing.MinMargin {
		return optional.None[entrySignal]()
	}

	return optional.Some(entrySignal{
		Direction: direction,
		Margin:    margin,
	})
}

// direction applies the regime-selected policy and its gates.
func (e *EntryEvaluator) direction(bar types.Bar) types.Direction {
	if e.cfg.Entry.MeanReversion {
		switch bar.Indicators.Regime {
		case types.RegimeRanging:
			return e.meanReversionDirection(bar)
		case types.RegimeTrending:
			return e.trendDirection(bar)
		default:
			return types.DirectionNone
		}
	}

	return e.trendDirection(bar)
}

// trendDirection follows the moving-average spread, gated by momentum,
// minimum spread, pullback band and N-bar confirmation.
func (e *EntryEvaluator) trendDirection(bar types.Bar) types.Direction {
	ind := bar.Indicators
	trend := ind.Trend

	// The confirmation streak counts bars agreeing on the raw trend,
	// independent of the other gates.
	if trend != types.DirectionNone && trend == e.confirmDir {
		e.confirmStreak++
	} else {
		e.confirmDir = trend
		e.confirmStreak = 1
	}

	if trend == types.DirectionNone {
		return types.DirectionNone
	}

	if e.cfg.Entry.ConfirmBars > 1 && e.confirmStreak < e.cfg.Entry.ConfirmBars {
		return types.DirectionNone
	}

	if !e.momentumGate(trend, ind.Momentum) {
		return types.DirectionNone
	}

	if e.cfg.Entry.MinSpreadPct > 0 && ind.SlowMA != 0 {
		spread := math.Abs(ind.FastMA-ind.SlowMA) / math.Abs(ind.SlowMA)
		if spread < e.cfg.Entry.MinSpreadPct {
			return types.DirectionNone
		}
	}

	if e.cfg.Entry.PullbackBandPct > 0 && ind.FastMA > 0 {
		distance := math.Abs(bar.Close-ind.FastMA) / ind.FastMA
		if distance > e.cfg.Entry.PullbackBandPct {
			return types.DirectionNone
		}
	}

	return trend
}

// meanReversionDirection fades a band-edge touch with an extreme oscillator
// reading.
func (e *EntryEvaluator) meanReversionDirection(bar types.Bar) types.Direction {
	ind := bar.Indicators
	if !ind.BandsReady() {
		return types.DirectionNone
	}

	if bar.Close <= ind.BandLower && ind.Momentum <= e.cfg.Entry.MomentumOversold {
		return types.DirectionLong
	}

	if bar.Close >= ind.BandUpper && ind.Momentum >= e.cfg.Entry.MomentumOverbought {
		return types.DirectionShort
	}

	return types.DirectionNone
}

func (e *EntryEvaluator) momentumGate(direction types.Direction, momentum float64) bool {
	switch direction {
	case types.DirectionLong:
		return momentum > e.cfg.Entry.MomentumLongMin
	case types.DirectionShort:
		return momentum < e.cfg.Entry.MomentumShortMax
	default:
		return false
	}
}

// margin applies the sizing policy, clamped to current equity.
func (e *EntryEvaluator) margin(equity float64, lastWin optional.Option[bool]) float64 {
	sizing := e.cfg.Sizing

	if sizing.FixedMargin.IsSome() {
		return math.Min(sizing.FixedMargin.Unwrap(), equity)
	}

	fraction := sizing.BaseFraction

	switch sizing.Mode {
	case SizingEquityTiered:
		if equity >= sizing.EquityThreshold {
			fraction = sizing.AboveFraction
		} else {
			fraction = sizing.BelowFraction
		}
	case SizingOutcomeAdaptive:
		if lastWin.IsSome() {
			if lastWin.Unwrap() {
				fraction = sizing.WinFraction
			} else {
				fraction = sizing.LossFraction
			}
		}
	case SizingFixedFraction:
	}

	return equity * fraction
}
