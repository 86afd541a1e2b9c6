package engine

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/quantfold/leverbt/internal/types"
	"github.com/stretchr/testify/suite"
)

type EntryTestSuite struct {
	suite.Suite
}

func TestEntrySuite(t *testing.T) {
	suite.Run(t, new(EntryTestSuite))
}

func (suite *EntryTestSuite) newEvaluator(mutate func(*Config)) *EntryEvaluator {
	cfg := ReferenceConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	return NewEntryEvaluator(&cfg)
}

// trendBar builds a bar whose indicators point in the given direction with a
// momentum reading clearing the reference gates.
func trendBar(direction types.Direction, momentum float64) types.Bar {
	bar := types.Bar{
		Time:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Open:  100,
		High:  101,
		Low:   99,
		Close: 100,
		Indicators: types.IndicatorSet{
			ATR:      2,
			Momentum: momentum,
			Trend:    direction,
			Regime:   types.RegimeTrending,
		},
	}

	switch direction {
	case types.DirectionLong:
		bar.Indicators.FastMA = 100
		bar.Indicators.SlowMA = 98
	case types.DirectionShort:
		bar.Indicators.FastMA = 98
		bar.Indicators.SlowMA = 100
	default:
		bar.Indicators.FastMA = 100
		bar.Indicators.SlowMA = 100
	}

	return bar
}

func (suite *EntryTestSuite) TestLongEntryOnTrendAndMomentum() {
	e := suite.newEvaluator(nil)

	signal := e.Evaluate(trendBar(types.DirectionLong, 60), 100, optional.None[bool]())

	suite.Require().True(signal.IsSome())
	s := signal.Unwrap()
	suite.Equal(types.DirectionLong, s.Direction)
	suite.InDelta(50, s.Margin, 1e-9)
}

func (suite *EntryTestSuite) TestShortEntryOnTrendAndMomentum() {
	e := suite.newEvaluator(nil)

	signal := e.Evaluate(trendBar(types.DirectionShort, 40), 100, optional.None[bool]())

	suite.Require().True(signal.IsSome())
	suite.Equal(types.DirectionShort, signal.Unwrap().Direction)
}

func (suite *EntryTestSuite) TestMomentumGateBlocksWeakLong() {
	e := suite.newEvaluator(nil)

	// Momentum at the threshold does not clear the strict comparison.
	suite.True(e.Evaluate(trendBar(types.DirectionLong, 55), 100, optional.None[bool]()).IsNone())
	suite.True(e.Evaluate(trendBar(types.DirectionLong, 50), 100, optional.None[bool]()).IsNone())
}

func (suite *EntryTestSuite) TestNoEntryWithoutTrend() {
	e := suite.newEvaluator(nil)

	suite.True(e.Evaluate(trendBar(types.DirectionNone, 60), 100, optional.None[bool]()).IsNone())
}

func (suite *EntryTestSuite) TestNoEntryOnZeroEquity() {
	e := suite.newEvaluator(nil)

	suite.True(e.Evaluate(trendBar(types.DirectionLong, 60), 0, optional.None[bool]()).IsNone())
}

func (suite *EntryTestSuite) TestSessionWindowBlocksOutOfHours() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Session = optional.Some(SessionWindow{StartHour: 14, EndHour: 20})
	})

	// trendBar is at 12:00 UTC.
	suite.True(e.Evaluate(trendBar(types.DirectionLong, 60), 100, optional.None[bool]()).IsNone())
}

func (suite *EntryTestSuite) TestSessionWindowWrapsMidnight() {
	window := SessionWindow{StartHour: 22, EndHour: 4}

	suite.True(window.Contains(time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)))
	suite.True(window.Contains(time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)))
	suite.False(window.Contains(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func (suite *EntryTestSuite) TestConfirmBarsRequireStreak() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Entry.ConfirmBars = 3
	})
	bar := trendBar(types.DirectionLong, 60)

	suite.True(e.Evaluate(bar, 100, optional.None[bool]()).IsNone())
	suite.True(e.Evaluate(bar, 100, optional.None[bool]()).IsNone())
	suite.True(e.Evaluate(bar, 100, optional.None[bool]()).IsSome())
}

func (suite *EntryTestSuite) TestConfirmStreakResetsOnFlip() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Entry.ConfirmBars = 2
	})

	e.Evaluate(trendBar(types.DirectionLong, 60), 100, optional.None[bool]())
	e.Evaluate(trendBar(types.DirectionShort, 40), 100, optional.None[bool]())
	signal := e.Evaluate(trendBar(types.DirectionLong, 60), 100, optional.None[bool]())

	suite.True(signal.IsNone())
}

func (suite *EntryTestSuite) TestMinSpreadBlocksChop() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Entry.MinSpreadPct = 0.05
	})

	// |100-98|/98 is about 2%, under the 5% gate.
	suite.True(e.Evaluate(trendBar(types.DirectionLong, 60), 100, optional.None[bool]()).IsNone())
}

func (suite *EntryTestSuite) TestPullbackBandBlocksExtendedPrice() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Entry.PullbackBandPct = 0.01
	})
	bar := trendBar(types.DirectionLong, 60)
	bar.Close = 103
	bar.High = 103.5
	bar.Low = 102

	suite.True(e.Evaluate(bar, 100, optional.None[bool]()).IsNone())
}

func (suite *EntryTestSuite) TestMeanReversionLongAtLowerBand() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Entry.MeanReversion = true
	})
	bar := trendBar(types.DirectionNone, 25)
	bar.Indicators.Regime = types.RegimeRanging
	bar.Indicators.BandUpper = 105
	bar.Indicators.BandLower = 100

	signal := e.Evaluate(bar, 100, optional.None[bool]())

	suite.Require().True(signal.IsSome())
	suite.Equal(types.DirectionLong, signal.Unwrap().Direction)
}

func (suite *EntryTestSuite) TestMeanReversionShortAtUpperBand() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Entry.MeanReversion = true
	})
	bar := trendBar(types.DirectionNone, 75)
	bar.Indicators.Regime = types.RegimeRanging
	bar.Indicators.BandUpper = 100
	bar.Indicators.BandLower = 95

	signal := e.Evaluate(bar, 100, optional.None[bool]())

	suite.Require().True(signal.IsSome())
	suite.Equal(types.DirectionShort, signal.Unwrap().Direction)
}

func (suite *EntryTestSuite) TestMeanReversionNeedsExtremeMomentum() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Entry.MeanReversion = true
	})
	bar := trendBar(types.DirectionNone, 45)
	bar.Indicators.Regime = types.RegimeRanging
	bar.Indicators.BandUpper = 105
	bar.Indicators.BandLower = 100

	suite.True(e.Evaluate(bar, 100, optional.None[bool]()).IsNone())
}

func (suite *EntryTestSuite) TestUnknownRegimeStaysFlatWhenMeanReversionEnabled() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Entry.MeanReversion = true
	})
	bar := trendBar(types.DirectionLong, 60)
	bar.Indicators.Regime = types.RegimeUnknown

	suite.True(e.Evaluate(bar, 100, optional.None[bool]()).IsNone())
}

func (suite *EntryTestSuite) TestEquityTieredSizing() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Sizing = SizingConfig{
			Mode:            SizingEquityTiered,
			BaseFraction:    0.5,
			EquityThreshold: 200,
			AboveFraction:   0.3,
			BelowFraction:   0.8,
		}
	})
	bar := trendBar(types.DirectionLong, 60)

	above := e.Evaluate(bar, 300, optional.None[bool]())
	suite.InDelta(90, above.Unwrap().Margin, 1e-9)

	e.Reset()
	below := e.Evaluate(bar, 100, optional.None[bool]())
	suite.InDelta(80, below.Unwrap().Margin, 1e-9)
}

func (suite *EntryTestSuite) TestOutcomeAdaptiveSizing() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Sizing = SizingConfig{
			Mode:         SizingOutcomeAdaptive,
			BaseFraction: 0.5,
			WinFraction:  0.7,
			LossFraction: 0.25,
		}
	})
	bar := trendBar(types.DirectionLong, 60)

	first := e.Evaluate(bar, 100, optional.None[bool]())
	suite.InDelta(50, first.Unwrap().Margin, 1e-9)

	afterWin := e.Evaluate(bar, 100, optional.Some(true))
	suite.InDelta(70, afterWin.Unwrap().Margin, 1e-9)

	afterLoss := e.Evaluate(bar, 100, optional.Some(false))
	suite.InDelta(25, afterLoss.Unwrap().Margin, 1e-9)
}

func (suite *EntryTestSuite) TestFixedMarginOverrideClampsToEquity() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Sizing.FixedMargin = optional.Some(80.0)
	})
	bar := trendBar(types.DirectionLong, 60)

	signal := e.Evaluate(bar, 60, optional.None[bool]())
	suite.InDelta(60, signal.Unwrap().Margin, 1e-9)
}

func (suite *EntryTestSuite) TestMinMarginRefusesSmallEntries() {
	e := suite.newEvaluator(func(cfg *Config) {
		cfg.Sizing.MinMargin = 10
	})
	bar := trendBar(types.DirectionLong, 60)

	// 0.5 * 15 = 7.5 margin, under the floor.
	suite.True(e.Evaluate(bar, 15, optional.None[bool]()).IsNone())
}
