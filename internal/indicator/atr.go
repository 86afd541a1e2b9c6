package indicator

import (
	"math"

	"github.com/quantfold/leverbt/pkg/errors"
)

// ATR computes the average true range as a rolling mean of the true range
// over the given period. The true range of the first bar has no previous
// close and degrades to high-low. Indices before a full window are NaN.
func ATR(high, low, close []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "atr period must be positive, got %d", period)
	}

	if len(high) != len(low) || len(high) != len(close) {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "atr input series must have equal length")
	}

	tr := make([]float64, len(high))

	for i := range high {
		hl := high[i] - low[i]
		if i == 0 {
			tr[i] = hl

			continue
		}

		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	return SMA(tr, period)
}
