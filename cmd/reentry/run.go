package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dmarsh/reentry-engine/config"
	"github.com/dmarsh/reentry-engine/internal/bus"
	"github.com/dmarsh/reentry-engine/internal/calendar"
	"github.com/dmarsh/reentry-engine/internal/domain"
	"github.com/dmarsh/reentry-engine/internal/layout"
	"github.com/dmarsh/reentry-engine/internal/ledger"
	"github.com/dmarsh/reentry-engine/internal/matrix"
	"github.com/dmarsh/reentry-engine/internal/orchestrator"
	"github.com/dmarsh/reentry-engine/internal/paramset"
)

var (
	runConfigPath string
	runCalendar   string
	runReport     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the engine's cooperative event loop against a given root",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "config/config.yaml", "path to config file")
	runCmd.Flags().StringVar(&runCalendar, "calendar", "", "path to an economic-calendar CSV fixture (optional, §4.1 ECO proximity)")
	runCmd.Flags().BoolVar(&runReport, "report", false, "print a termination-reason report on exit instead of just stopping")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		fail(exitFatal, "failed to load config", "err", err, "path", runConfigPath)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	setupLogger(cfg.LogLevel)

	lay := layout.New(cfg.Root)
	if err := lay.EnsureDirs(); err != nil {
		fail(exitFatal, "failed to create root layout", "err", err, "root", cfg.Root)
	}

	params, err := paramset.New(lay.ParameterSetsJSON(), lay.ParameterLogCSV())
	if err != nil {
		fail(exitRegistryInvalid, "failed to load parameter set registry", "err", err)
	}

	matrixStore, err := matrix.Load(lay.MatrixMapCSV(), params)
	if err != nil {
		fail(exitMatrixIncomplete, "failed to load matrix", "err", err)
	}

	var cal *calendar.CSVCalendar
	if runCalendar != "" {
		cal, err = calendar.LoadCSV(runCalendar)
		if err != nil {
			// The calendar feeds the classifier's ECO-proximity bucket
			// (§4.1); a broken fixture is a classifier setup failure,
			// not a generic fatal one, hence exitClassifierError.
			fail(exitClassifierError, "failed to load calendar fixture", "err", err, "path", runCalendar)
		}
	}

	chainLedger, err := ledger.New(lay.ChainHistoryCSV())
	if err != nil {
		fail(exitFatal, "failed to open chain ledger", "err", err)
	}

	index, err := ledger.OpenAuditIndex(lay.AuditIndexDB())
	if err != nil {
		fail(exitFatal, "failed to open audit index", "err", err)
	}
	defer index.Close()
	chainLedger.SetAuditIndex(index)

	signalBus, err := bus.NewSignalBus(lay.TradingSignalsCSV())
	if err != nil {
		fail(exitFatal, "failed to open signal bus", "err", err)
	}

	tail, err := bus.NewTailReader(lay.TradeResponsesCSV())
	if err != nil {
		fail(exitFatal, "failed to open response tail reader", "err", err)
	}

	closedTrades, err := bus.NewClosedTradeTailReader(lay.ClosedTradesCSV())
	if err != nil {
		fail(exitFatal, "failed to open closed-trade tail reader", "err", err)
	}

	orchCfg := orchestrator.Config{
		AckGrace:         cfg.AckGrace(),
		MaxChainDuration: cfg.MaxChainDuration(),
		BrokerMinLot:     cfg.Broker.MinLot,
		BrokerMaxLot:     cfg.Broker.MaxLot,
		BrokerLotStep:    cfg.Broker.LotStep,
		PipValuePerLot:   cfg.Broker.PipValuePerLot,
	}
	// BalanceLookup is nil: the execution adapter that would supply a
	// live per-symbol balance is out of scope (§1). Sizing instead uses
	// each ClosedTradeEvent's own last_known_balance field.
	orch := orchestrator.New(orchCfg, cal, matrixStore, params, chainLedger, signalBus, tail, closedTrades, nil)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("reentry engine starting", "root", cfg.Root, "poll_interval", cfg.ReloadPollInterval())
	if err := orch.Run(ctx, cfg.ReloadPollInterval()); err != nil {
		if errors.Is(err, domain.ErrBusContention) {
			fail(exitBusContention, "orchestrator stopped: bus contention exhausted", "err", err)
		}
		fail(exitFatal, "orchestrator exited with error", "err", err)
	}
	slog.Info("reentry engine stopped cleanly")

	if runReport {
		printTerminationReport(ctx, lay.ChainHistoryCSV(), index)
	}
	return nil
}

// printTerminationReport rebuilds the audit index from chain_history.csv
// (belt-and-braces against any insert dropped during the run, see
// Ledger.appendHistory) and prints termination-reason counts.
func printTerminationReport(ctx context.Context, historyPath string, index *ledger.AuditIndex) {
	result, err := ledger.Replay(historyPath)
	if err != nil {
		slog.Warn("report: replay failed", "err", err)
		return
	}
	if err := index.Rebuild(ctx, result.Rows); err != nil {
		slog.Warn("report: rebuild audit index failed", "err", err)
		return
	}
	counts, err := index.TerminationCounts(ctx)
	if err != nil {
		slog.Warn("report: termination counts failed", "err", err)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Termination reason", "Count")
	for reason, n := range counts {
		table.Append(reason, fmt.Sprintf("%d", n))
	}
	table.Render()
}
