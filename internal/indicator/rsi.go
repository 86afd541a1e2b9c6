package indicator

import (
	"math"

	"github.com/quantfold/leverbt/pkg/errors"
)

// RSI computes the Wilder relative strength index with exponential smoothing
// of gains and losses (alpha = 1/period). The first index has no price change
// and is NaN.
func RSI(close []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "rsi period must be positive, got %d", period)
	}

	out := make([]float64, len(close))
	if len(close) == 0 {
		return out, nil
	}

	out[0] = math.NaN()

	alpha := 1.0 / float64(period)

	var avgGain, avgLoss float64

	for i := 1; i < len(close); i++ {
		delta := close[i] - close[i-1]

		gain := math.Max(delta, 0)
		loss := math.Max(-delta, 0)

		if i == 1 {
			avgGain = gain
			avgLoss = loss
		} else {
			avgGain = alpha*gain + (1-alpha)*avgGain
			avgLoss = alpha*loss + (1-alpha)*avgLoss
		}

		// Small epsilon keeps the ratio defined on loss-free stretches.
		rs := avgGain / (avgLoss + 1e-12)
		out[i] = 100.0 - 100.0/(1.0+rs)
	}

	return out, nil
}
