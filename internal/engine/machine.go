package engine

import (
	"github.com/moznion/go-optional"
	"github.com/quantfold/leverbt/internal/logger"
	"github.com/quantfold/leverbt/internal/types"
	"go.uber.org/zap"
)

// State is the machine's lifecycle state.
type State string

const (
	// StateFlat means no position is held.
	StateFlat State = "flat"
	// StateOpen means a single position is in flight.
	StateOpen State = "open"
	// StateHalted means equity has been exhausted; the machine ignores all
	// further bars.
	StateHalted State = "halted"
)

// Machine is the single-position trade lifecycle driver. It consumes
// enriched bars in order and routes them through the entry and exit
// evaluators, mutating the ledger as legs open and close. Bars failing
// validity or indicator readiness are skipped entirely: they advance neither
// the holding period nor the peak.
type Machine struct {
	cfg    *Config
	logger *logger.Logger
	ledger *Ledger
	entry  *EntryEvaluator
	exit   *ExitEvaluator
	state  State
	pos    *types.Position
}

// NewMachine creates a machine in the flat state over a fresh ledger.
func NewMachine(cfg *Config, log *logger.Logger) *Machine {
	return &Machine{
		cfg:    cfg,
		logger: log,
		ledger: NewLedger(cfg.InitialEquity, cfg.FeeRate, log),
		entry:  NewEntryEvaluator(cfg),
		exit:   NewExitEvaluator(cfg),
		state:  StateFlat,
		pos:    nil,
	}
}

// State returns the machine's current lifecycle state.
func (m *Machine) State() State {
	return m.state
}

// Ledger returns the machine's ledger.
func (m *Machine) Ledger() *Ledger {
	return m.ledger
}

// Position returns the in-flight position, none when flat or halted.
func (m *Machine) Position() optional.Option[types.Position] {
	if m.state != StateOpen || m.pos == nil {
		return optional.None[types.Position]()
	}

	return optional.Some(*m.pos)
}

// Step processes one bar. Exit management runs before entry evaluation, so a
// position closed on this bar frees the machine to re-enter on the same bar.
func (m *Machine) Step(bar types.Bar) {
	if m.state == StateHalted {
		return
	}

	if !bar.Valid() || !bar.Indicators.Ready() {
		return
	}

	if m.state == StateOpen {
		m.managePosition(bar)
	}

	if m.ledger.Exhausted() {
		m.halt(bar)

		return
	}

	if m.state == StateFlat {
		m.tryEnter(bar)
	}
}

// managePosition advances the holding period and peak, applies the
// adjustment rules, then the prioritized full-exit chain.
func (m *Machine) managePosition(bar types.Bar) {
	pos := m.pos
	pos.BarsHeld++
	pos.UpdatePeak(bar.High, bar.Low)

	lastWin := m.ledger.LastTradeWin()

	if d := m.exit.ScaleIn(pos, bar, m.ledger.Equity()); d.IsSome() {
		m.applyScaleIn(bar, d.Unwrap())
	}

	if d := m.exit.PartialTakeProfit(pos); d.IsSome() {
		m.applyPartialClose(bar, d.Unwrap())
	}

	if m.state != StateOpen || m.ledger.Exhausted() {
		return
	}

	if d := m.exit.FullExit(pos, bar, lastWin); d.IsSome() {
		m.applyFullClose(bar, d.Unwrap())
	}
}

// applyScaleIn grows the position toward the target margin at the bar close
// and recomputes the weighted average entry price.
func (m *Machine) applyScaleIn(bar types.Bar, d scaleInDecision) {
	pos := m.pos

	addNotional := d.AddMargin * m.cfg.Leverage
	addSize := addNotional / bar.Close

	pos.EntryPrice = (pos.Size*pos.EntryPrice + addSize*bar.Close) / (pos.Size + addSize)
	pos.Size += addSize
	pos.Margin += d.AddMargin
	pos.ScaledIn = true

	if pos.Size > pos.MaxSize {
		pos.MaxSize = pos.Size
	}

	m.ledger.RecordScaleIn(pos, bar.Time, addNotional, addSize)

	m.logger.Debug("Scaled in",
		zap.Time("time", bar.Time),
		zap.Float64("add_margin", d.AddMargin),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("size", pos.Size),
	)
}

// applyPartialClose realizes the decided quantity and shrinks the committed
// margin proportionally. A partial that would consume the whole position is
// treated as a full close.
func (m *Machine) applyPartialClose(bar types.Bar, d closeDecision) {
	pos := m.pos

	remain := pos.Size - d.Quantity
	if remain <= 0 {
		m.applyFullClose(bar, closeDecision{
			Price:    d.Price,
			Reason:   d.Reason,
			Quantity: pos.Size,
		})

		return
	}

	m.ledger.RecordClose(pos, bar.Time, d.Price, d.Quantity, d.Reason, false)

	pos.Margin *= remain / pos.Size
	pos.Size = remain
	pos.PartialTaken = true

	m.logger.Debug("Partial close",
		zap.Time("time", bar.Time),
		zap.Float64("price", d.Price),
		zap.Float64("quantity", d.Quantity),
		zap.Float64("remaining", pos.Size),
	)
}

// applyFullClose realizes the remaining quantity and returns to flat.
func (m *Machine) applyFullClose(bar types.Bar, d closeDecision) {
	pos := m.pos

	m.ledger.RecordClose(pos, bar.Time, d.Price, d.Quantity, d.Reason, true)

	m.logger.Debug("Closed position",
		zap.Time("time", bar.Time),
		zap.String("reason", string(d.Reason)),
		zap.Float64("price", d.Price),
		zap.Float64("equity", m.ledger.Equity()),
	)

	m.pos = nil
	m.state = StateFlat
}

// tryEnter opens a new position when the entry evaluator fires.
func (m *Machine) tryEnter(bar types.Bar) {
	signal := m.entry.Evaluate(bar, m.ledger.Equity(), m.ledger.LastTradeWin())
	if signal.IsNone() {
		return
	}

	s := signal.Unwrap()
	notional := s.Margin * m.cfg.Leverage
	size := notional / bar.Close

	pos := &types.Position{
		Direction:  s.Direction,
		EntryPrice: bar.Close,
		EntryTime:  bar.Time,
		Size:       size,
		Margin:     s.Margin,
		PeakPrice:  bar.Close,
		TrailTier:  -1,
		MaxSize:    size,
	}
	pos.StopPrice = m.exit.InitialStop(s.Direction, bar.Close, bar.Indicators.ATR, m.ledger.LastTradeWin())

	m.pos = pos
	m.state = StateOpen
	m.entry.Reset()

	m.ledger.RecordOpen(pos, bar.Time, notional)

	if m.ledger.Exhausted() {
		m.halt(bar)

		return
	}

	m.logger.Debug("Opened position",
		zap.Time("time", bar.Time),
		zap.String("direction", string(s.Direction)),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("margin", pos.Margin),
		zap.Float64("stop", pos.StopPrice),
	)
}

func (m *Machine) halt(bar types.Bar) {
	m.pos = nil
	m.state = StateHalted

	m.logger.Warn("Halting after equity exhaustion", zap.Time("time", bar.Time))
}
