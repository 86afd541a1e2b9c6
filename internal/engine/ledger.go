package engine

import (
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/quantfold/leverbt/internal/logger"
	"github.com/quantfold/leverbt/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger accumulates realized pnl net of fees, the append-only trade record
// list and the equity curve. It is the only component allowed to mutate the
// running equity.
type Ledger struct {
	logger        *logger.Logger
	feeRate       float64
	initialEquity float64
	equity        float64
	peakEquity    float64
	maxDrawdown   float64
	trades        []types.TradeRecord
	curve         []types.EquityPoint
	lastTradeWin  optional.Option[bool]
	exhausted     bool
	seq           int
}

// recordNamespace scopes the deterministic record IDs.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("leverbt.trade-record"))

// nextID mints the record ID from the ledger sequence. IDs are deterministic
// so identical runs produce byte-identical trade records.
func (l *Ledger) nextID() string {
	l.seq++

	return uuid.NewSHA1(recordNamespace, []byte(strconv.Itoa(l.seq))).String()
}

// NewLedger creates a ledger starting at the given equity.
func NewLedger(initialEquity float64, feeRate float64, logger *logger.Logger) *Ledger {
	return &Ledger{
		logger:        logger,
		feeRate:       feeRate,
		initialEquity: initialEquity,
		equity:        initialEquity,
		peakEquity:    initialEquity,
		maxDrawdown:   0,
		trades:        nil,
		curve:         nil,
		lastTradeWin:  optional.None[bool](),
		exhausted:     false,
	}
}

// Equity returns the current running equity.
func (l *Ledger) Equity() float64 {
	return l.equity
}

// Exhausted reports whether equity has been depleted. Once true the engine
// holds flat for the remainder of the run.
func (l *Ledger) Exhausted() bool {
	return l.exhausted
}

// LastTradeWin reports the outcome of the last fully closed trade, none
// before the first close.
func (l *Ledger) LastTradeWin() optional.Option[bool] {
	return l.lastTradeWin
}

// Trades returns the append-only trade record list.
func (l *Ledger) Trades() []types.TradeRecord {
	return l.trades
}

// Curve returns the equity curve, one point per recorded event.
func (l *Ledger) Curve() []types.EquityPoint {
	return l.curve
}

// MaxDrawdown returns the worst fractional decline of equity from its
// running peak, as a non-positive number.
func (l *Ledger) MaxDrawdown() float64 {
	return l.maxDrawdown
}

// RecordOpen debits the opening fee for the given notional and appends the
// open marker record.
func (l *Ledger) RecordOpen(pos *types.Position, t time.Time, notional float64) types.TradeRecord {
	fee := l.fee(notional)
	l.applyPnl(-fee)

	record := types.TradeRecord{
		ID:             l.nextID(),
		EntryTime:      pos.EntryTime,
		EntryPrice:     pos.EntryPrice,
		Reason:         types.ReasonOpen,
		Direction:      pos.Direction,
		Quantity:       pos.Size,
		MarginUsed:     pos.Margin,
		Fee:            fee,
		PnLNet:         -fee,
		PnLPctOnMargin: pctOnMargin(-fee, pos.Margin),
		EquityAfter:    l.equity,
	}

	l.append(record, t)

	return record
}

// RecordScaleIn debits the opening fee for the added leg and appends the
// scale-in record. The original leg's entry fee is not repaid.
func (l *Ledger) RecordScaleIn(pos *types.Position, t time.Time, addNotional, addQuantity float64) types.TradeRecord {
	fee := l.fee(addNotional)
	l.applyPnl(-fee)

	record := types.TradeRecord{
		ID:             l.nextID(),
		EntryTime:      pos.EntryTime,
		EntryPrice:     pos.EntryPrice,
		Reason:         types.ReasonScaleIn,
		Direction:      pos.Direction,
		Quantity:       addQuantity,
		MarginUsed:     pos.Margin,
		Fee:            fee,
		PnLNet:         -fee,
		PnLPctOnMargin: pctOnMargin(-fee, pos.Margin),
		EquityAfter:    l.equity,
	}

	l.append(record, t)

	return record
}

// RecordClose realizes pnl for the given quantity at exitPrice, net of the
// closing-leg fee. The final close of a position sets the last-trade outcome
// used by adaptive policies.
func (l *Ledger) RecordClose(pos *types.Position, t time.Time, exitPrice, quantity float64, reason types.CloseReason, final bool) types.TradeRecord {
	entry := decimal.NewFromFloat(pos.EntryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	qty := decimal.NewFromFloat(quantity)
	sign := decimal.NewFromFloat(pos.Direction.Sign())

	gross := exit.Sub(entry).Mul(qty).Mul(sign)
	fee := exit.Mul(qty).Abs().Mul(decimal.NewFromFloat(l.feeRate))
	net, _ := gross.Sub(fee).Float64()
	feeValue, _ := fee.Float64()

	l.applyPnl(net)

	if final {
		l.lastTradeWin = optional.Some(net > 0)
	}

	record := types.TradeRecord{
		ID:             l.nextID(),
		EntryTime:      pos.EntryTime,
		ExitTime:       t,
		EntryPrice:     pos.EntryPrice,
		ExitPrice:      exitPrice,
		Reason:         reason,
		Direction:      pos.Direction,
		Quantity:       quantity,
		MarginUsed:     pos.Margin,
		Fee:            feeValue,
		PnLNet:         net,
		PnLPctOnMargin: pctOnMargin(net, pos.Margin),
		EquityAfter:    l.equity,
	}

	l.append(record, t)

	if l.exhausted {
		l.logger.Warn("Equity exhausted, halting",
			zap.Time("time", t),
			zap.String("reason", string(reason)),
		)
	}

	return record
}

func (l *Ledger) fee(notional float64) float64 {
	return math.Abs(notional) * l.feeRate
}

// applyPnl moves equity and clamps it at zero; depletion is terminal for the
// run, never silently corrected.
func (l *Ledger) applyPnl(delta float64) {
	l.equity += delta
	if l.equity <= 0 {
		l.equity = 0
		l.exhausted = true
	}
}

func (l *Ledger) append(record types.TradeRecord, t time.Time) {
	l.trades = append(l.trades, record)
	l.curve = append(l.curve, types.EquityPoint{Time: t, Equity: l.equity})

	if l.equity > l.peakEquity {
		l.peakEquity = l.equity
	}

	if l.peakEquity > 0 {
		dd := (l.equity - l.peakEquity) / l.peakEquity
		if dd < l.maxDrawdown {
			l.maxDrawdown = dd
		}
	}
}

// pctOnMargin guards the division: a zero margin yields a defined zero.
func pctOnMargin(net, margin float64) float64 {
	if margin <= 0 {
		return 0
	}

	return net / margin
}
