package indicator

import (
	"math"

	"github.com/quantfold/leverbt/pkg/errors"
)

// Bollinger computes the upper and lower volatility band edges: a simple
// moving average shifted by stdDev population standard deviations. Indices
// before a full window are NaN in both outputs.
func Bollinger(close []float64, period int, stdDev float64) (upper, lower []float64, err error) {
	if stdDev <= 0 {
		return nil, nil, errors.Newf(errors.ErrCodeInvalidParameter, "bollinger std dev multiple must be positive, got %f", stdDev)
	}

	mid, err := SMA(close, period)
	if err != nil {
		return nil, nil, err
	}

	upper = make([]float64, len(close))
	lower = make([]float64, len(close))

	for i := range close {
		if math.IsNaN(mid[i]) {
			upper[i] = math.NaN()
			lower[i] = math.NaN()

			continue
		}

		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := close[j] - mid[i]
			variance += d * d
		}

		sigma := math.Sqrt(variance / float64(period))
		upper[i] = mid[i] + stdDev*sigma
		lower[i] = mid[i] - stdDev*sigma
	}

	return upper, lower, nil
}
