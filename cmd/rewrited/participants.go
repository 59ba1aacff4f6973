package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-rewrite/internal/runtime"
)

var participantsCmd = &cobra.Command{
	Use:   "participants",
	Short: "List the active participants in execution order",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		return runParticipants(cmd.Context(), cmd.OutOrStdout(), path)
	},
}

func init() {
	rootCmd.AddCommand(participantsCmd)
}

func runParticipants(ctx context.Context, out io.Writer, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	gw, err := runtime.New(
		runtime.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		runtime.WithConfigFile(path),
	)
	if err != nil {
		return err
	}
	defer gw.Shutdown(ctx)

	if err := gw.Build(ctx); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tPRIORITY")
	for _, e := range gw.Registry().Inventory() {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", e.Kind, e.Name, e.Priority)
	}
	return tw.Flush()
}
