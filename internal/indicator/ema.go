// Package indicator precomputes the per-bar indicator columns the engine
// consumes: moving averages, a true-range volatility estimate, a momentum
// oscillator, volatility bands and a regime tag. All series functions return
// one value per input element, with NaN marking the warm-up span.
package indicator

import (
	"math"

	"github.com/quantfold/leverbt/pkg/errors"
)

// EMA computes an exponential moving average with span-based smoothing
// (alpha = 2/(span+1)), seeded with the first value.
func EMA(values []float64, span int) ([]float64, error) {
	if span <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "ema span must be positive, got %d", span)
	}

	if len(values) == 0 {
		return nil, errors.New(errors.ErrCodeInsufficientData, "ema requires at least one value")
	}

	alpha := 2.0 / (float64(span) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]

	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}

	return out, nil
}

// SMA computes a simple moving average over the given period. Indices before
// a full window are NaN.
func SMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "sma period must be positive, got %d", period)
	}

	out := make([]float64, len(values))

	sum := 0.0

	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}

		if i >= period-1 {
			out[i] = sum / float64(period)
		} else {
			out[i] = math.NaN()
		}
	}

	return out, nil
}
