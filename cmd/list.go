package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresmejia3/facecensus/internal/store"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all scans recorded in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context, w io.Writer) error {
	db, err := requireDB()
	if err != nil {
		return err
	}
	scans, err := db.ListScans(ctx)
	if err != nil {
		return fmt.Errorf("failed to list scans: %w", err)
	}
	printScans(w, scans)
	return nil
}

func printScans(w io.Writer, scans []store.ScanSummary) {
	if len(scans) == 0 {
		fmt.Fprintln(w, "No scans found in database.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tFACES\tFRAMES\tSTARTED\tSTATUS")
	fmt.Fprintln(tw, "--\t------\t-----\t------\t-------\t------")

	for _, s := range scans {
		status := "complete"
		if s.Cancelled {
			status = "partial"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", s.ID, s.Source, s.Observations, s.Frames,
			s.StartedAt.Local().Format("2006-01-02 15:04"), status)
	}
	tw.Flush()
}
