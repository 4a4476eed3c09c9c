package main

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dmarsh/reentry-engine/internal/ledger"
)

var replayIndexPath string

var replayCmd = &cobra.Command{
	Use:   "replay <chain_history.csv>",
	Short: "Reconstruct ledger state from a historical chain_history.csv (audits, tests)",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayIndexPath, "index", "", "also rebuild a SQLite audit index at this path")
}

func runReplay(cmd *cobra.Command, args []string) error {
	setupLogger(logLevel)

	result, err := ledger.Replay(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(exitFatal)
	}

	if replayIndexPath != "" {
		index, err := ledger.OpenAuditIndex(replayIndexPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "opening audit index failed: %v\n", err)
			os.Exit(exitFatal)
		}
		defer index.Close()
		if err := index.Rebuild(context.Background(), result.Rows); err != nil {
			fmt.Fprintf(os.Stderr, "rebuilding audit index failed: %v\n", err)
			os.Exit(exitFatal)
		}
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Chain", "Symbol", "Generation", "Cumulative used %", "Status")
	for id, c := range result.Chains {
		table.Append(id, c.Symbol, string(c.CurrentGeneration), fmt.Sprintf("%.2f", c.CumulativeUsedRiskPct), string(c.Status))
	}
	table.Render()

	fmt.Printf("%d history rows replayed, %d chains still open\n", len(result.Rows), len(result.Chains))
	os.Exit(exitOK)
	return nil
}
