package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/quantfold/leverbt/internal/datasource"
	"github.com/quantfold/leverbt/internal/engine"
	"github.com/quantfold/leverbt/internal/logger"
	"github.com/quantfold/leverbt/internal/store"
	"github.com/quantfold/leverbt/internal/types"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

// backtestAction runs one backtest: load the config, replay the data file
// through the engine, persist the results and write the run summary.
func backtestAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	dataPath := cmd.String("data")
	outputPath := cmd.String("output")

	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	bt := engine.NewEngine()
	if err := bt.Initialize(string(configBytes)); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	appLog, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLog.Sync()

	source, err := datasource.NewDuckDBSource(appLog)
	if err != nil {
		return fmt.Errorf("failed to open data source: %w", err)
	}
	defer source.Close()

	if err := source.Initialize(dataPath); err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}

	bt.SetBarSource(source)

	var bar *progressbar.ProgressBar
	onBar := engine.OnBarCallback(func(current, total int) {
		if bar == nil {
			bar = progressbar.Default(int64(total))
			bar.Describe(fmt.Sprintf("Replaying %s", dataPath))
		}
		_ = bar.Add(1)
	})

	result, err := bt.Run(optional.Some(onBar))
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	return writeResults(appLog, result, dataPath, outputPath)
}

// writeResults persists the trades and equity curve to parquet and the run
// summary to yaml.
func writeResults(appLog *logger.Logger, result *engine.Result, dataPath, outputPath string) error {
	st, err := store.NewResultStore(appLog)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}
	defer st.Close()

	if err := st.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize result store: %w", err)
	}

	if err := st.InsertTrades(result.Trades); err != nil {
		return fmt.Errorf("failed to store trades: %w", err)
	}

	if err := st.InsertCurve(result.EquityCurve); err != nil {
		return fmt.Errorf("failed to store equity curve: %w", err)
	}

	tradeResult, pnl, totalFees, err := st.Summarize()
	if err != nil {
		return fmt.Errorf("failed to summarize: %w", err)
	}

	tradesPath, curvePath, err := st.Write(outputPath)
	if err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}

	tradeResult.MaxDrawdown = result.MaxDrawdown
	pnl.UnrealizedPnL = result.UnrealizedPnL
	pnl.TotalPnL = pnl.RealizedPnL + pnl.UnrealizedPnL

	stats := types.RunStats{
		ID:              uuid.New().String(),
		Timestamp:       time.Now(),
		TradeResult:     tradeResult,
		TradePnl:        pnl,
		TotalFees:       totalFees,
		InitialEquity:   result.InitialEquity,
		FinalEquity:     result.FinalEquity,
		EquityExhausted: result.EquityExhausted,
		TradesFilePath:  tradesPath,
		EquityFilePath:  curvePath,
		DataPath:        dataPath,
	}

	statsPath := fmt.Sprintf("%s/stats.yaml", outputPath)
	if err := types.WriteRunStats(statsPath, stats); err != nil {
		return fmt.Errorf("failed to write run stats: %w", err)
	}

	fmt.Printf("Run complete: %d records, final equity %.2f (stats: %s)\n",
		len(result.Trades), result.FinalEquity, statsPath)

	return nil
}

// schemaAction prints the JSON schema for the engine configuration.
func schemaAction(ctx context.Context, cmd *cli.Command) error {
	cfg := &engine.Config{}
	schema, err := cfg.GenerateSchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Replay a price series through the trade lifecycle engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the yaml engine configuration",
				Value:    "config/backtest.yaml",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Path to the price data file (csv or parquet)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Directory for the exported results",
				Value:    "results",
				Required: false,
			},
		},
		Action: backtestAction,
		Commands: []*cli.Command{
			{
				Name:   "schema",
				Usage:  "Print the JSON schema for the engine configuration",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
