package indicator

import (
	"math"

	"github.com/quantfold/leverbt/internal/types"
	"github.com/quantfold/leverbt/pkg/errors"
)

// Config selects the indicator periods used to enrich a raw bar series.
type Config struct {
	FastPeriod     int     `yaml:"fast_period" validate:"gt=0"`
	SlowPeriod     int     `yaml:"slow_period" validate:"gt=0"`
	ATRPeriod      int     `yaml:"atr_period" validate:"gt=0"`
	MomentumPeriod int     `yaml:"momentum_period" validate:"gt=0"`
	BandPeriod     int     `yaml:"band_period" validate:"gt=0"`
	BandStdDev     float64 `yaml:"band_std_dev" validate:"gt=0"`
	// RegimeMinSpread is the minimum |fast-slow|/slow spread for the bar to
	// be tagged trending rather than ranging.
	RegimeMinSpread float64 `yaml:"regime_min_spread" validate:"gte=0"`
}

// DefaultConfig matches the ETH 15m reference parameter set.
func DefaultConfig() Config {
	return Config{
		FastPeriod:      34,
		SlowPeriod:      144,
		ATRPeriod:       34,
		MomentumPeriod:  14,
		BandPeriod:      20,
		BandStdDev:      2.0,
		RegimeMinSpread: 0.002,
	}
}

// Enrich fills the Indicators field of every bar from the raw OHLC series.
// Bars keep NaN indicator values over the warm-up span, which the engine
// treats as "not ready" and skips.
func (c Config) Enrich(bars []types.Bar) ([]types.Bar, error) {
	if len(bars) == 0 {
		return nil, errors.New(errors.ErrCodeInsufficientData, "cannot enrich an empty bar series")
	}

	high := make([]float64, len(bars))
	low := make([]float64, len(bars))
	close := make([]float64, len(bars))

	for i, b := range bars {
		high[i] = b.High
		low[i] = b.Low
		close[i] = b.Close
	}

	fast, err := EMA(close, c.FastPeriod)
	if err != nil {
		return nil, err
	}

	slow, err := EMA(close, c.SlowPeriod)
	if err != nil {
		return nil, err
	}

	atr, err := ATR(high, low, close, c.ATRPeriod)
	if err != nil {
		return nil, err
	}

	momentum, err := RSI(close, c.MomentumPeriod)
	if err != nil {
		return nil, err
	}

	upper, lower, err := Bollinger(close, c.BandPeriod, c.BandStdDev)
	if err != nil {
		return nil, err
	}

	// The slow average needs a full period of data before its value is
	// meaningful; mask everything before that so the engine holds flat,
	// mirroring the dropna the source data preparation performs.
	warmup := c.SlowPeriod
	if c.ATRPeriod > warmup {
		warmup = c.ATRPeriod
	}

	out := make([]types.Bar, len(bars))

	for i, b := range bars {
		set := types.IndicatorSet{
			FastMA:    fast[i],
			SlowMA:    slow[i],
			ATR:       atr[i],
			Momentum:  momentum[i],
			BandUpper: upper[i],
			BandLower: lower[i],
			Trend:     types.DirectionNone,
			Regime:    types.RegimeUnknown,
		}

		if i < warmup {
			set.FastMA = math.NaN()
			set.SlowMA = math.NaN()
			set.ATR = math.NaN()
		}

		if set.Ready() {
			set.Trend = trendDirection(set.FastMA, set.SlowMA)
			set.Regime = regimeTag(set.FastMA, set.SlowMA, c.RegimeMinSpread)
		}

		b.Indicators = set
		out[i] = b
	}

	return out, nil
}

func trendDirection(fast, slow float64) types.Direction {
	switch {
	case fast > slow:
		return types.DirectionLong
	case fast < slow:
		return types.DirectionShort
	default:
		return types.DirectionNone
	}
}

func regimeTag(fast, slow, minSpread float64) types.RegimeTag {
	if slow == 0 {
		return types.RegimeUnknown
	}

	if math.Abs(fast-slow)/math.Abs(slow) >= minSpread {
		return types.RegimeTrending
	}

	return types.RegimeRanging
}
