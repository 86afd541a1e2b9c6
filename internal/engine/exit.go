package engine

import (
	"math"

	"github.com/moznion/go-optional"
	"github.com/quantfold/leverbt/internal/types"
)

// closeDecision is a resolved full or partial close: a single price and the
// rule that produced it.
type closeDecision struct {
	Price    float64
	Reason   types.CloseReason
	Quantity float64
}

// scaleInDecision is the margin to add on a scale-in.
type scaleInDecision struct {
	AddMargin float64
}

// ExitEvaluator resolves, for the current bar of an open position, the
// prioritized exit rule set: forced drawdown > stop/trailing touch > signal
// flip > time exit, with partial take-profit and scale-in evaluated as
// independent adjustments before the exit checks.
type ExitEvaluator struct {
	cfg *Config
}

// NewExitEvaluator creates an evaluator over the given configuration.
func NewExitEvaluator(cfg *Config) *ExitEvaluator {
	return &ExitEvaluator{cfg: cfg}
}

// mostConservative resolves the candidate stop closest to the current price
// in the protective direction: the highest floor for a long, the lowest
// ceiling for a short. NaN candidates are skipped.
func mostConservative(direction types.Direction, candidates ...float64) optional.Option[float64] {
	result := optional.None[float64]()

	for _, c := range candidates {
		if math.IsNaN(c) {
			continue
		}

		if result.IsNone() {
			result = optional.Some(c)

			continue
		}

		current := result.Unwrap()
		if direction == types.DirectionLong && c > current {
			result = optional.Some(c)
		}

		if direction == types.DirectionShort && c < current {
			result = optional.Some(c)
		}
	}

	return result
}

// stopMultiple selects the volatility multiple for the base stop, adapted to
// the previous trade's outcome when the adaptive policy is present.
func (e *ExitEvaluator) stopMultiple(lastWin optional.Option[bool]) float64 {
	if e.cfg.AdaptiveStop.IsNone() || lastWin.IsNone() {
		return e.cfg.StopMultiple
	}

	policy := e.cfg.AdaptiveStop.Unwrap()
	if lastWin.Unwrap() {
		return policy.WinMultiple
	}

	return policy.LossMultiple
}

// InitialStop computes the protective stop set at entry.
func (e *ExitEvaluator) InitialStop(direction types.Direction, entryPrice, atr float64, lastWin optional.Option[bool]) float64 {
	return entryPrice - direction.Sign()*e.stopMultiple(lastWin)*atr
}

// updateStop recomputes the effective stop for this bar and writes it to the
// position. The base stop floats with the volatility estimate; the trailing
// candidate ratchets, so once a tier is active the stored stop never
// regresses to a less favorable value.
func (e *ExitEvaluator) updateStop(pos *types.Position, bar types.Bar, lastWin optional.Option[bool]) {
	base := pos.EntryPrice - pos.Direction.Sign()*e.stopMultiple(lastWin)*bar.Indicators.ATR
	candidates := []float64{base}

	if e.cfg.Trailing.IsSome() {
		tiers := e.cfg.Trailing.Unwrap().Tiers
		gain := pos.GainFromEntry()

		// Advance to the highest tier whose trigger has been reached.
		// Tiers never loosen.
		for i := pos.TrailTier + 1; i < len(tiers); i++ {
			if gain >= tiers[i].TriggerPct {
				pos.TrailTier = i
			}
		}

		if pos.TrailingActive() {
			back := tiers[pos.TrailTier].BackPct
			trail := pos.PeakPrice * (1 - pos.Direction.Sign()*back)
			// Ratchet against the previously stored stop.
			candidates = append(candidates, trail, pos.StopPrice)
		}
	}

	if eff := mostConservative(pos.Direction, candidates...); eff.IsSome() {
		pos.StopPrice = eff.Unwrap()
	}
}

// ScaleIn returns the margin to add when the scale-in policy triggers:
// unrealized gain past the trigger, not yet scaled in, and the target margin
// meaningfully above the current one.
func (e *ExitEvaluator) ScaleIn(pos *types.Position, bar types.Bar, equity float64) optional.Option[scaleInDecision] {
	if e.cfg.ScaleIn.IsNone() || pos.ScaledIn || equity <= 0 {
		return optional.None[scaleInDecision]()
	}

	policy := e.cfg.ScaleIn.Unwrap()

	if pos.EntryPrice <= 0 {
		return optional.None[scaleInDecision]()
	}

	gain := (bar.Close - pos.EntryPrice) / pos.EntryPrice * pos.Direction.Sign()
	if gain < policy.TriggerPct {
		return optional.None[scaleInDecision]()
	}

	target := equity * policy.TargetEquityFraction
	// Require at least a 1% improvement over the committed margin.
	if target <= pos.Margin*1.01 {
		return optional.None[scaleInDecision]()
	}

	return optional.Some(scaleInDecision{AddMargin: target - pos.Margin})
}

// PartialTakeProfit returns the partial close decision when the favorable
// excursion has reached the trigger and no partial has been taken yet. The
// close executes at the threshold-implied price, not the bar extreme.
func (e *ExitEvaluator) PartialTakeProfit(pos *types.Position) optional.Option[closeDecision] {
	if e.cfg.PartialTP.IsNone() || pos.PartialTaken {
		return optional.None[closeDecision]()
	}

	policy := e.cfg.PartialTP.Unwrap()
	if pos.GainFromEntry() < policy.TriggerPct {
		return optional.None[closeDecision]()
	}

	price := pos.EntryPrice * (1 + pos.Direction.Sign()*policy.TriggerPct)

	return optional.Some(closeDecision{
		Price:    price,
		Reason:   types.ReasonPartialTP,
		Quantity: pos.Size * policy.Fraction,
	})
}

// FullExit resolves the prioritized full-close rules for this bar. It also
// recomputes the effective stop, so the position's stop price is current
// even when no exit fires. When both a stop touch and a signal flip are
// satisfiable on the same bar, the stop wins: capital protection first.
func (e *ExitEvaluator) FullExit(pos *types.Position, bar types.Bar, lastWin optional.Option[bool]) optional.Option[closeDecision] {
	// Forced drawdown-from-peak exit.
	if e.cfg.DrawdownExit.IsSome() {
		policy := e.cfg.DrawdownExit.Unwrap()
		if (!policy.AfterScaleInOnly || pos.ScaledIn) && pos.DrawdownFromPeak(bar.Close) >= policy.MaxRetracePct {
			return optional.Some(closeDecision{
				Price:    bar.Close,
				Reason:   types.ReasonForcedDrawdown,
				Quantity: pos.Size,
			})
		}
	}

	// Touch-based stop/trailing exit, at the stop price rather than the bar
	// extreme.
	e.updateStop(pos, bar, lastWin)

	if pos.StopPrice > 0 {
		touched := (pos.Direction == types.DirectionLong && bar.Low <= pos.StopPrice) ||
			(pos.Direction == types.DirectionShort && bar.High >= pos.StopPrice)
		if touched {
			return optional.Some(closeDecision{
				Price:    pos.StopPrice,
				Reason:   types.ReasonStopOrTrail,
				Quantity: pos.Size,
			})
		}
	}

	// Signal-flip exit with N-bar confirmation.
	if e.cfg.Exit.SignalFlip {
		if bar.Indicators.Trend == pos.Direction.Opposite() {
			pos.FlipStreak++
		} else {
			pos.FlipStreak = 0
		}

		confirm := e.cfg.Exit.ConfirmBars
		if confirm < 1 {
			confirm = 1
		}

		if pos.FlipStreak >= confirm {
			return optional.Some(closeDecision{
				Price:    bar.Close,
				Reason:   types.ReasonSignalFlip,
				Quantity: pos.Size,
			})
		}
	}

	// Time-based exit.
	if e.cfg.Exit.MaxHoldBars > 0 && pos.BarsHeld > e.cfg.Exit.MaxHoldBars {
		return optional.Some(closeDecision{
			Price:    bar.Close,
			Reason:   types.ReasonTimeExit,
			Quantity: pos.Size,
		})
	}

	return optional.None[closeDecision]()
}
