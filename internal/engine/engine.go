package engine

import (
	"math"

	"github.com/moznion/go-optional"
	"github.com/quantfold/leverbt/internal/datasource"
	"github.com/quantfold/leverbt/internal/logger"
	"github.com/quantfold/leverbt/internal/types"
	"github.com/quantfold/leverbt/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// OnBarCallback is invoked after each processed bar, for progress reporting.
// current is the zero-based bar index, total the bar count of the run.
type OnBarCallback func(current, total int)

// Result is the outcome of a completed run. A position still open when the
// data ends is reported as-is, with its unrealized pnl marked at the last
// close, rather than force-closed.
type Result struct {
	Trades          []types.TradeRecord
	EquityCurve     []types.EquityPoint
	InitialEquity   float64
	FinalEquity     float64
	MaxDrawdown     float64
	EquityExhausted bool
	OpenPosition    optional.Option[types.Position]
	UnrealizedPnL   float64
}

// Engine replays a bar series through the trade lifecycle machine.
type Engine struct {
	cfg    *Config
	logger *logger.Logger
	source datasource.BarSource
}

// NewEngine creates an uninitialized engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Initialize parses and validates the yaml configuration and sets up the
// engine's logger.
func (e *Engine) Initialize(configYAML string) error {
	log, err := logger.NewLogger()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to create logger", err)
	}
	e.logger = log

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(configYAML), cfg); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse engine config", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	e.cfg = cfg

	return nil
}

// SetConfig installs an already-validated configuration, bypassing yaml.
// Used by tests and programmatic callers.
func (e *Engine) SetConfig(cfg *Config, log *logger.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.cfg = cfg
	e.logger = log

	return nil
}

// SetBarSource installs the bar series to replay.
func (e *Engine) SetBarSource(source datasource.BarSource) {
	e.source = source
}

// Run executes the backtest: collect the windowed bars, enrich them with
// indicators, then drive the machine bar by bar.
func (e *Engine) Run(onBar optional.Option[OnBarCallback]) (*Result, error) {
	if e.cfg == nil {
		return nil, errors.New(errors.ErrCodeEngineNotInitialized, "engine not initialized")
	}

	if e.source == nil {
		return nil, errors.New(errors.ErrCodeEngineNoDataSource, "no bar source configured")
	}

	bars, err := e.collect()
	if err != nil {
		return nil, err
	}

	if len(bars) == 0 {
		return nil, errors.New(errors.ErrCodeInsufficientData, "bar source yielded no bars in the configured window")
	}

	bars, err = e.cfg.Indicators.Enrich(bars)
	if err != nil {
		return nil, err
	}

	machine := NewMachine(e.cfg, e.logger)

	for i, bar := range bars {
		machine.Step(bar)

		if onBar.IsSome() {
			onBar.Unwrap()(i, len(bars))
		}
	}

	result := e.result(machine, bars[len(bars)-1])

	e.logger.Info("Run complete",
		zap.Int("bars", len(bars)),
		zap.Int("records", len(result.Trades)),
		zap.Float64("final_equity", result.FinalEquity),
		zap.Bool("exhausted", result.EquityExhausted),
	)

	return result, nil
}

// collect drains the source into memory, preserving order and verifying it.
func (e *Engine) collect() ([]types.Bar, error) {
	var bars []types.Bar
	var iterErr error

	for bar, err := range e.source.ReadAll(e.cfg.StartTime, e.cfg.EndTime) {
		if err != nil {
			iterErr = err

			break
		}

		if n := len(bars); n > 0 && !bar.Time.After(bars[n-1].Time) {
			return nil, errors.Newf(errors.ErrCodeUnorderedBars,
				"bar at %s does not advance past %s", bar.Time, bars[n-1].Time)
		}

		bars = append(bars, bar)
	}

	if iterErr != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "bar source iteration failed", iterErr)
	}

	return bars, nil
}

// result assembles the run outcome, marking any still-open position at the
// final bar's close.
func (e *Engine) result(machine *Machine, last types.Bar) *Result {
	ledger := machine.Ledger()

	result := &Result{
		Trades:          ledger.Trades(),
		EquityCurve:     ledger.Curve(),
		InitialEquity:   e.cfg.InitialEquity,
		FinalEquity:     ledger.Equity(),
		MaxDrawdown:     ledger.MaxDrawdown(),
		EquityExhausted: ledger.Exhausted(),
		OpenPosition:    machine.Position(),
		UnrealizedPnL:   0,
	}

	if result.OpenPosition.IsSome() {
		pos := result.OpenPosition.Unwrap()
		gross := (last.Close - pos.EntryPrice) * pos.Size * pos.Direction.Sign()
		fee := math.Abs(last.Close*pos.Size) * e.cfg.FeeRate
		result.UnrealizedPnL = gross - fee
	}

	return result
}
