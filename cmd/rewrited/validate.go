package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-rewrite/internal/declarative"
)

var validateCmd = &cobra.Command{
	Use:   "validate <rules.yaml>",
	Short: "Check a rules file",
	Long: `Compiles every rule set of the file, reporting unknown operation types,
missing arguments and invalid patterns. Defaults to the configuration file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if len(args) > 0 {
			path = args[0]
		}
		n, err := runValidate(path)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules ok\n", path, n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(path string) (int, error) {
	sets, err := declarative.LoadFile(path)
	if err != nil {
		return 0, err
	}
	cfg, err := declarative.Compile(sets, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return 0, err
	}
	return len(cfg.Rules), nil
}
