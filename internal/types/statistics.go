package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type TradeResult struct {
	// Count of all realized closes (partial closes included).
	NumberOfTrades int `yaml:"number_of_trades"`
	// Count of closes with positive net pnl.
	NumberOfWinningTrades int `yaml:"number_of_winning_trades"`
	// Count of closes with negative net pnl.
	NumberOfLosingTrades int `yaml:"number_of_losing_trades"`
	// Win rate.
	WinRate float64 `yaml:"win_rate"`
	// Maximum drawdown of the equity curve, as a negative fraction of the
	// running peak.
	MaxDrawdown float64 `yaml:"max_drawdown"`
}

type TradePnl struct {
	// Realized PnL, summed over all close records.
	RealizedPnL float64 `yaml:"realized_pnl"`
	// Unrealized PnL of a position still open at the end of the run, marked
	// to the last close price. Zero when the run ends flat.
	UnrealizedPnL float64 `yaml:"unrealized_pnl"`
	TotalPnL      float64 `yaml:"total_pnl"`
	// Worst single realized close.
	MaximumLoss float64 `yaml:"maximum_loss"`
	// Best single realized close.
	MaximumProfit float64 `yaml:"maximum_profit"`
	AverageWin    float64 `yaml:"average_win"`
	AverageLoss   float64 `yaml:"average_loss"`
}

// RunStats is the aggregate result of one backtest run.
type RunStats struct {
	// ID is the unique identifier for this backtest run.
	ID string `yaml:"id"`
	// Timestamp is when this backtest run was executed.
	Timestamp     time.Time   `yaml:"timestamp"`
	TradeResult   TradeResult `yaml:"trade_result"`
	TradePnl      TradePnl    `yaml:"trade_pnl"`
	TotalFees     float64     `yaml:"total_fees"`
	InitialEquity float64     `yaml:"initial_equity"`
	FinalEquity   float64     `yaml:"final_equity"`
	// EquityExhausted is true when the run halted because equity reached zero.
	EquityExhausted bool `yaml:"equity_exhausted"`
	// TradesFilePath is the path to the exported trades parquet file.
	TradesFilePath string `yaml:"trades_file_path"`
	// EquityFilePath is the path to the exported equity curve parquet file.
	EquityFilePath string `yaml:"equity_file_path"`
	// DataPath is the path to the price data file used for this run.
	DataPath string `yaml:"data_path"`
}

func WriteRunStats(path string, stats RunStats) error {
	// Marshal the struct to YAML
	data, err := yaml.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats to YAML: %w", err)
	}

	// Write the YAML data to the file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run stats to file: %w", err)
	}

	return nil
}
