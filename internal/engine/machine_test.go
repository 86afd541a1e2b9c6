package engine

import (
	"math"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/quantfold/leverbt/internal/logger"
	"github.com/quantfold/leverbt/internal/types"
	"github.com/stretchr/testify/suite"
)

type MachineTestSuite struct {
	suite.Suite
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineTestSuite))
}

// bareConfig is a minimal configuration with every optional policy disabled,
// so individual tests enable exactly what they exercise.
func bareConfig() Config {
	cfg := ReferenceConfig()
	cfg.FeeRate = 0
	cfg.AdaptiveStop = optional.None[AdaptiveStopPolicy]()
	cfg.Trailing = optional.None[TrailingPolicy]()
	cfg.PartialTP = optional.None[PartialTPPolicy]()
	cfg.ScaleIn = optional.None[ScaleInPolicy]()
	cfg.DrawdownExit = optional.None[DrawdownExitPolicy]()

	return cfg
}

func (suite *MachineTestSuite) newMachine(cfg Config) *Machine {
	return NewMachine(&cfg, logger.NewNopLogger())
}

// readyBar builds a valid long-trend bar at the given close.
func readyBar(minute int, close, high, low, atr, momentum float64) types.Bar {
	return types.Bar{
		Time:   time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC),
		Open:   close,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: 1,
		Indicators: types.IndicatorSet{
			ATR:      atr,
			Momentum: momentum,
			FastMA:   close,
			SlowMA:   close * 0.98,
			Trend:    types.DirectionLong,
			Regime:   types.RegimeTrending,
		},
	}
}

func (suite *MachineTestSuite) TestOpensOnEntrySignal() {
	m := suite.newMachine(bareConfig())

	m.Step(readyBar(0, 100, 101, 99, 2, 60))

	suite.Equal(StateOpen, m.State())
	pos := m.Position().Unwrap()
	suite.Equal(types.DirectionLong, pos.Direction)
	// margin 25 at 5x leverage -> size 1.25 at price 100.
	suite.InDelta(25, pos.Margin, 1e-9)
	suite.InDelta(1.25, pos.Size, 1e-9)
	suite.InDelta(93, pos.StopPrice, 1e-9)

	records := m.Ledger().Trades()
	suite.Require().Len(records, 1)
	suite.Equal(types.ReasonOpen, records[0].Reason)
}

func (suite *MachineTestSuite) TestStopTouchClosesAtStopPrice() {
	m := suite.newMachine(bareConfig())

	// Entry 100, ATR 2, base multiple 3.5 -> stop 93.
	m.Step(readyBar(0, 100, 101, 99, 2, 60))
	suite.Equal(StateOpen, m.State())

	// Low pierces the stop: exit executes at 93, not at the low.
	bar := readyBar(15, 94, 96, 92, 2, 60)
	bar.Indicators.Momentum = 50 // block same-bar re-entry
	m.Step(bar)

	suite.Equal(StateFlat, m.State())
	records := m.Ledger().Trades()
	suite.Require().Len(records, 2)
	close := records[1]
	suite.Equal(types.ReasonStopOrTrail, close.Reason)
	suite.InDelta(93, close.ExitPrice, 1e-9)
	// pnl = (93-100) * 1.25 with zero fees.
	suite.InDelta(-8.75, close.PnLNet, 1e-9)
	suite.InDelta(41.25, m.Ledger().Equity(), 1e-9)
}

func (suite *MachineTestSuite) TestTrailingLocksInGain() {
	cfg := bareConfig()
	cfg.Trailing = optional.Some(TrailingPolicy{
		Tiers: []TrailingTier{{TriggerPct: 0.06, BackPct: 0.03}},
	})
	m := suite.newMachine(cfg)

	m.Step(readyBar(0, 100, 101, 99, 2, 60))

	// Peak runs to 107: the 6% tier activates, stop trails 3% off the peak.
	m.Step(readyBar(15, 106, 107, 104, 2, 60))
	pos := m.Position().Unwrap()
	suite.Equal(0, pos.TrailTier)
	suite.InDelta(107*0.97, pos.StopPrice, 1e-9)

	// Retrace through the trail: exit at the trailed stop.
	bar := readyBar(30, 103, 104, 102, 2, 50)
	m.Step(bar)

	suite.Equal(StateFlat, m.State())
	records := m.Ledger().Trades()
	close := records[len(records)-1]
	suite.Equal(types.ReasonStopOrTrail, close.Reason)
	suite.InDelta(107*0.97, close.ExitPrice, 1e-9)
	suite.Greater(close.PnLNet, 0.0)
}

func (suite *MachineTestSuite) TestPartialTakeProfitHalvesPosition() {
	cfg := bareConfig()
	cfg.PartialTP = optional.Some(PartialTPPolicy{TriggerPct: 0.10, Fraction: 0.5})
	cfg.Sizing.FixedMargin = optional.Some(20.0)
	m := suite.newMachine(cfg)

	m.Step(readyBar(0, 100, 101, 99, 2, 60))
	before := m.Position().Unwrap()
	suite.InDelta(1.0, before.Size, 1e-9)

	// High reaches 10% above entry: half closes at the threshold price 110.
	m.Step(readyBar(15, 109, 111, 108, 2, 60))

	suite.Equal(StateOpen, m.State())
	after := m.Position().Unwrap()
	suite.True(after.PartialTaken)
	suite.InDelta(0.5, after.Size, 1e-9)
	suite.InDelta(10, after.Margin, 1e-9)
	suite.InDelta(100, after.EntryPrice, 1e-9)

	records := m.Ledger().Trades()
	suite.Require().Len(records, 2)
	partial := records[1]
	suite.Equal(types.ReasonPartialTP, partial.Reason)
	suite.InDelta(110, partial.ExitPrice, 1e-9)
	suite.InDelta(0.5, partial.Quantity, 1e-9)
	// (110-100) * 0.5 with zero fees.
	suite.InDelta(5, partial.PnLNet, 1e-9)
}

func (suite *MachineTestSuite) TestScaleInRecomputesWeightedEntry() {
	cfg := bareConfig()
	cfg.InitialEquity = 100
	cfg.ScaleIn = optional.Some(ScaleInPolicy{TriggerPct: 0.05, TargetEquityFraction: 0.75})
	cfg.Sizing.FixedMargin = optional.Some(25.0)
	m := suite.newMachine(cfg)

	m.Step(readyBar(0, 100, 101, 99, 2, 60))

	// Close 5% above entry: margin grows from 25 toward 0.75 * equity.
	m.Step(readyBar(15, 105, 106, 104, 2, 60))

	pos := m.Position().Unwrap()
	suite.True(pos.ScaledIn)
	suite.InDelta(75, pos.Margin, 1e-9)

	// Added leg: 50 margin * 5x / 105 ~ 2.381 units on top of 1.25.
	addSize := 50.0 * 5 / 105
	suite.InDelta(1.25+addSize, pos.Size, 1e-9)
	expectedEntry := (1.25*100 + addSize*105) / (1.25 + addSize)
	suite.InDelta(expectedEntry, pos.EntryPrice, 1e-9)
	suite.InDelta(pos.Size, pos.MaxSize, 1e-9)

	records := m.Ledger().Trades()
	suite.Require().Len(records, 2)
	suite.Equal(types.ReasonScaleIn, records[1].Reason)
}

func (suite *MachineTestSuite) TestForcedDrawdownAfterScaleIn() {
	cfg := bareConfig()
	cfg.ScaleIn = optional.Some(ScaleInPolicy{TriggerPct: 0.05, TargetEquityFraction: 0.75})
	cfg.DrawdownExit = optional.Some(DrawdownExitPolicy{MaxRetracePct: 0.03, AfterScaleInOnly: true})
	m := suite.newMachine(cfg)

	m.Step(readyBar(0, 100, 101, 99, 2, 60))
	m.Step(readyBar(15, 105, 106, 104, 2, 60))
	suite.True(m.Position().Unwrap().ScaledIn)

	// Peak 106, close 102.5: a 3.3% retrace forces the exit at the close.
	bar := readyBar(30, 102.5, 103, 102, 2, 50)
	m.Step(bar)

	suite.Equal(StateFlat, m.State())
	records := m.Ledger().Trades()
	close := records[len(records)-1]
	suite.Equal(types.ReasonForcedDrawdown, close.Reason)
	suite.InDelta(102.5, close.ExitPrice, 1e-9)
}

func (suite *MachineTestSuite) TestEquityExhaustionHalts() {
	cfg := bareConfig()
	cfg.InitialEquity = 50
	cfg.Leverage = 10
	cfg.Sizing.Mode = SizingFixedFraction
	cfg.Sizing.BaseFraction = 1.0
	m := suite.newMachine(cfg)

	// Full equity at 10x: a 10% adverse move wipes the account.
	m.Step(readyBar(0, 100, 101, 99, 3, 60))
	suite.Equal(StateOpen, m.State())

	crash := readyBar(15, 85, 100, 85, 3, 60)
	m.Step(crash)

	suite.Equal(StateHalted, m.State())
	suite.Equal(0.0, m.Ledger().Equity())
	suite.True(m.Ledger().Exhausted())
	suite.True(m.Position().IsNone())

	recordCount := len(m.Ledger().Trades())
	curveLen := len(m.Ledger().Curve())

	// Further bars are ignored entirely.
	m.Step(readyBar(30, 100, 101, 99, 3, 60))
	suite.Equal(StateHalted, m.State())
	suite.Len(m.Ledger().Trades(), recordCount)
	suite.Len(m.Ledger().Curve(), curveLen)
}

func (suite *MachineTestSuite) TestSkipsInvalidAndUnreadyBars() {
	m := suite.newMachine(bareConfig())

	m.Step(readyBar(0, 100, 101, 99, 2, 60))
	pos := m.Position().Unwrap()
	barsHeld := pos.BarsHeld
	peak := pos.PeakPrice

	// Unready indicators: bar is skipped, nothing advances.
	unready := readyBar(15, 120, 125, 119, 2, 60)
	unready.Indicators.ATR = math.NaN()
	m.Step(unready)

	// Malformed bar: also skipped.
	invalid := readyBar(30, 120, 125, 119, 2, 60)
	invalid.Close = math.NaN()
	m.Step(invalid)

	after := m.Position().Unwrap()
	suite.Equal(barsHeld, after.BarsHeld)
	suite.InDelta(peak, after.PeakPrice, 1e-12)
}

func (suite *MachineTestSuite) TestSameBarReentryAfterClose() {
	cfg := bareConfig()
	cfg.Exit.MaxHoldBars = 1
	m := suite.newMachine(cfg)

	m.Step(readyBar(0, 100, 101, 99, 2, 60))
	m.Step(readyBar(15, 101, 102, 100, 2, 60))
	suite.Equal(StateOpen, m.State())

	// Holding period exceeded: the position closes and, with the entry
	// conditions still satisfied, a new one opens on the same bar.
	m.Step(readyBar(30, 102, 103, 101, 2, 60))

	suite.Equal(StateOpen, m.State())
	records := m.Ledger().Trades()
	suite.Require().Len(records, 3)
	suite.Equal(types.ReasonTimeExit, records[1].Reason)
	suite.Equal(types.ReasonOpen, records[2].Reason)
	suite.InDelta(102, m.Position().Unwrap().EntryPrice, 1e-9)
}

func (suite *MachineTestSuite) TestQuantityConservation() {
	cfg := bareConfig()
	cfg.PartialTP = optional.Some(PartialTPPolicy{TriggerPct: 0.10, Fraction: 0.5})
	cfg.Exit.MaxHoldBars = 3
	m := suite.newMachine(cfg)

	m.Step(readyBar(0, 100, 101, 99, 2, 60))
	opened := m.Position().Unwrap().Size

	m.Step(readyBar(15, 109, 111, 108, 2, 60))
	m.Step(readyBar(30, 109, 110, 108, 2, 50))
	m.Step(readyBar(45, 109, 110, 108, 2, 50))
	m.Step(readyBar(60, 109, 110, 108, 2, 50))

	suite.Equal(StateFlat, m.State())

	var closed float64
	for _, record := range m.Ledger().Trades() {
		if record.Reason.IsClose() {
			closed += record.Quantity
		}
	}

	suite.InDelta(opened, closed, 1e-9)
}
