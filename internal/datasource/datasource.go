// Package datasource loads ordered, time-ascending bar series for the
// backtest engine. Sources yield raw OHLCV bars; indicator enrichment happens
// downstream.
package datasource

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/quantfold/leverbt/internal/types"
)

// BarSource is the ordered bar series the engine replays.
type BarSource interface {
	// Initialize loads the data file (csv or parquet) behind the source.
	Initialize(path string) error
	// ReadAll yields all bars in ascending time order, optionally limited to
	// the [start, end] window.
	ReadAll(start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(types.Bar, error) bool)
	// Count returns the number of bars the source would yield.
	Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error)
	// Close releases any resources held by the source.
	Close() error
}

// SliceSource serves bars from memory. Used by tests and by callers that
// assemble series programmatically.
type SliceSource struct {
	bars []types.Bar
}

// NewSliceSource creates a SliceSource over the given bars. The caller is
// responsible for time-ascending order.
func NewSliceSource(bars []types.Bar) *SliceSource {
	return &SliceSource{bars: bars}
}

// Initialize implements BarSource. A slice source has nothing to load.
func (s *SliceSource) Initialize(path string) error {
	return nil
}

// ReadAll implements BarSource.
func (s *SliceSource) ReadAll(start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(types.Bar, error) bool) {
	return func(yield func(types.Bar, error) bool) {
		for _, bar := range s.bars {
			if !inWindow(bar.Time, start, end) {
				continue
			}

			if !yield(bar, nil) {
				return
			}
		}
	}
}

// Count implements BarSource.
func (s *SliceSource) Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error) {
	count := 0

	for _, bar := range s.bars {
		if inWindow(bar.Time, start, end) {
			count++
		}
	}

	return count, nil
}

// Close implements BarSource.
func (s *SliceSource) Close() error {
	return nil
}

func inWindow(t time.Time, start optional.Option[time.Time], end optional.Option[time.Time]) bool {
	if start.IsSome() && t.Before(start.Unwrap()) {
		return false
	}

	if end.IsSome() && t.After(end.Unwrap()) {
		return false
	}

	return true
}
