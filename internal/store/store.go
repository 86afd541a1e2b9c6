// Package store persists run results in an in-memory DuckDB database and
// exports them to parquet. It also computes the SQL-side trade summary.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/quantfold/leverbt/internal/logger"
	"github.com/quantfold/leverbt/internal/types"
	"github.com/quantfold/leverbt/pkg/errors"
	"go.uber.org/zap"
)

// ResultStore holds one run's trade records and equity curve.
type ResultStore struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewResultStore opens an in-memory store.
func NewResultStore(log *logger.Logger) (*ResultStore, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to open database", err)
	}

	return &ResultStore{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Initialize creates the trades and equity_curve tables.
func (s *ResultStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id TEXT,
			entry_time TIMESTAMP,
			exit_time TIMESTAMP,
			entry_price DOUBLE,
			exit_price DOUBLE,
			reason TEXT,
			direction TEXT,
			quantity DOUBLE,
			margin_used DOUBLE,
			fee DOUBLE,
			pnl_net DOUBLE,
			pnl_pct_on_margin DOUBLE,
			equity_after DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to create trades table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS equity_curve (
			time TIMESTAMP,
			equity DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to create equity_curve table", err)
	}

	return nil
}

// InsertTrades appends trade records in order.
func (s *ResultStore) InsertTrades(trades []types.TradeRecord) error {
	for _, trade := range trades {
		query := s.sq.
			Insert("trades").
			Columns(
				"id", "entry_time", "exit_time", "entry_price", "exit_price",
				"reason", "direction", "quantity", "margin_used", "fee",
				"pnl_net", "pnl_pct_on_margin", "equity_after",
			).
			Values(
				trade.ID, trade.EntryTime, trade.ExitTime, trade.EntryPrice, trade.ExitPrice,
				string(trade.Reason), string(trade.Direction), trade.Quantity, trade.MarginUsed, trade.Fee,
				trade.PnLNet, trade.PnLPctOnMargin, trade.EquityAfter,
			).
			RunWith(s.db)

		if _, err := query.Exec(); err != nil {
			return errors.Wrap(errors.ErrCodeStoreInsertFailed, "failed to insert trade", err)
		}
	}

	return nil
}

// InsertCurve appends equity curve points in order.
func (s *ResultStore) InsertCurve(points []types.EquityPoint) error {
	for _, point := range points {
		query := s.sq.
			Insert("equity_curve").
			Columns("time", "equity").
			Values(point.Time, point.Equity).
			RunWith(s.db)

		if _, err := query.Exec(); err != nil {
			return errors.Wrap(errors.ErrCodeStoreInsertFailed, "failed to insert equity point", err)
		}
	}

	return nil
}

// Summarize computes the SQL-side trade summary over the realized closes.
// Open and scale-in markers carry only their fee and are excluded from the
// win/loss counting.
func (s *ResultStore) Summarize() (types.TradeResult, types.TradePnl, float64, error) {
	// Raw SQL for the CTE query, Squirrel doesn't support CTEs well.
	query := `
		WITH closes AS (
			SELECT pnl_net
			FROM trades
			WHERE reason NOT IN ('open', 'scale_in')
		),
		close_stats AS (
			SELECT
				COUNT(*) as total_trades,
				COALESCE(SUM(CASE WHEN pnl_net > 0 THEN 1 ELSE 0 END), 0) as winning_trades,
				COALESCE(SUM(CASE WHEN pnl_net < 0 THEN 1 ELSE 0 END), 0) as losing_trades,
				COALESCE(SUM(pnl_net), 0) as realized_pnl,
				COALESCE(MIN(pnl_net), 0) as min_pnl,
				COALESCE(MAX(pnl_net), 0) as max_pnl,
				COALESCE(AVG(CASE WHEN pnl_net > 0 THEN pnl_net END), 0) as avg_win,
				COALESCE(AVG(CASE WHEN pnl_net < 0 THEN pnl_net END), 0) as avg_loss
			FROM closes
		)
		SELECT
			total_trades,
			winning_trades,
			losing_trades,
			CASE WHEN total_trades > 0 THEN CAST(winning_trades AS DOUBLE) / total_trades ELSE 0 END as win_rate,
			realized_pnl,
			min_pnl,
			max_pnl,
			avg_win,
			avg_loss
		FROM close_stats
	`

	var result types.TradeResult
	var pnl types.TradePnl

	err := s.db.QueryRow(query).Scan(
		&result.NumberOfTrades,
		&result.NumberOfWinningTrades,
		&result.NumberOfLosingTrades,
		&result.WinRate,
		&pnl.RealizedPnL,
		&pnl.MaximumLoss,
		&pnl.MaximumProfit,
		&pnl.AverageWin,
		&pnl.AverageLoss,
	)
	if err != nil {
		return types.TradeResult{}, types.TradePnl{}, 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to summarize trades", err)
	}

	feeQuery := s.sq.
		Select("COALESCE(SUM(fee), 0)").
		From("trades").
		RunWith(s.db)

	var totalFees float64
	if err := feeQuery.QueryRow().Scan(&totalFees); err != nil {
		return types.TradeResult{}, types.TradePnl{}, 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to sum fees", err)
	}

	return result, pnl, totalFees, nil
}

// Write exports the trades and equity curve to parquet files under path,
// creating it if needed. It returns the two file paths.
func (s *ResultStore) Write(path string) (string, string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", "", errors.Wrap(errors.ErrCodeStoreExportFailed, "failed to create output directory", err)
	}

	// Raw SQL, Squirrel doesn't support COPY.
	tradesPath := filepath.Join(path, "trades.parquet")
	if _, err := s.db.Exec(fmt.Sprintf(`COPY trades TO '%s' (FORMAT PARQUET)`, tradesPath)); err != nil {
		return "", "", errors.Wrap(errors.ErrCodeStoreExportFailed, "failed to export trades", err)
	}

	curvePath := filepath.Join(path, "equity_curve.parquet")
	if _, err := s.db.Exec(fmt.Sprintf(`COPY equity_curve TO '%s' (FORMAT PARQUET)`, curvePath)); err != nil {
		return "", "", errors.Wrap(errors.ErrCodeStoreExportFailed, "failed to export equity curve", err)
	}

	s.logger.Info("Exported run results",
		zap.String("trades", tradesPath),
		zap.String("equity_curve", curvePath),
	)

	return tradesPath, curvePath, nil
}

// Close releases the database.
func (s *ResultStore) Close() error {
	return s.db.Close()
}
