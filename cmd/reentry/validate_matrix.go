package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dmarsh/reentry-engine/config"
	"github.com/dmarsh/reentry-engine/internal/domain"
	"github.com/dmarsh/reentry-engine/internal/layout"
	"github.com/dmarsh/reentry-engine/internal/matrix"
	"github.com/dmarsh/reentry-engine/internal/paramset"
)

var validateMatrixConfigPath string

var validateMatrixCmd = &cobra.Command{
	Use:   "validate-matrix <path>",
	Short: "Validate a candidate matrix file against the parameter set registry and exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidateMatrix,
}

func init() {
	validateMatrixCmd.Flags().StringVar(&validateMatrixConfigPath, "config", "config/config.yaml", "path to config file (used only to locate the parameter set registry)")
}

func runValidateMatrix(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(validateMatrixConfigPath)
	if err != nil {
		fail(exitFatal, "failed to load config", "err", err, "path", validateMatrixConfigPath)
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
		fmt.Fprintf(os.Stderr, "registry invalid: %v\n", err)
		os.Exit(exitRegistryInvalid)
	}

	_, err = matrix.Load(args[0], params)
	if err == nil {
		fmt.Println("matrix OK: every legal combination present, no duplicates, every R2 row terminal, every parameter_set_id known")
		os.Exit(exitOK)
	}

	var reloadErr *matrix.ReloadError
	if !errors.As(err, &reloadErr) {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(exitFatal)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Problem")
	for _, p := range reloadErr.Problems {
		table.Append(p)
	}
	if len(reloadErr.Problems) == 0 {
		table.Append(reloadErr.Error())
	}
	table.Render()

	switch {
	case errors.Is(reloadErr.Err, domain.ErrMatrixIncomplete), errors.Is(reloadErr.Err, domain.ErrMatrixDuplicate), errors.Is(reloadErr.Err, domain.ErrMatrixR2NotTerminal):
		os.Exit(exitMatrixIncomplete)
	case errors.Is(reloadErr.Err, domain.ErrUnknownParameterSet):
		os.Exit(exitRegistryInvalid)
	default:
		os.Exit(exitMatrixIncomplete)
	}
	return nil
}
