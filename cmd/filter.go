package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andresmejia3/facecensus/internal/results"
	"github.com/andresmejia3/facecensus/internal/types"
	"github.com/andresmejia3/facecensus/internal/utils"
	"github.com/spf13/cobra"
)

type filterOptions struct {
	Input  string
	ScanID string
	MinAge int
	MaxAge int
	Gender string
}

var filterOpts filterOptions

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "List recorded faces within an age range and of a given gender",
	Example: `  facecensus filter -i results.jsonl --min-age 20 --max-age 30 --gender male
  facecensus filter --scan 3f2a... --gender all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFilter(cmd.Context(), cmd.OutOrStdout(), filterOpts)
	},
}

func init() {
	filterCmd.Flags().StringVarP(&filterOpts.Input, "input", "i", "", "JSON lines record written by scan")
	filterCmd.Flags().StringVar(&filterOpts.ScanID, "scan", "", "Scan ID to read from the database instead of a file")
	filterCmd.Flags().IntVar(&filterOpts.MinAge, "min-age", 0, "Minimum age (inclusive)")
	filterCmd.Flags().IntVar(&filterOpts.MaxAge, "max-age", 120, "Maximum age (inclusive)")
	filterCmd.Flags().StringVarP(&filterOpts.Gender, "gender", "g", "all", "Gender: male, female, all")
	filterCmd.MarkFlagsMutuallyExclusive("input", "scan")
	filterCmd.MarkFlagsOneRequired("input", "scan")
	rootCmd.AddCommand(filterCmd)
}

// buildFilter turns the command-line criteria into a results.Filter.
func buildFilter(minAge, maxAge int, gender string) (results.Filter, error) {
	f := results.Filter{MinAge: minAge, MaxAge: maxAge}
	if g := strings.TrimSpace(gender); g != "" && !strings.EqualFold(g, "all") {
		parsed, err := types.ParseGender(g)
		if err != nil {
			return results.Filter{}, err
		}
		f.Gender = &parsed
	}
	if err := f.Validate(); err != nil {
		return results.Filter{}, err
	}
	return f, nil
}

func runFilter(ctx context.Context, w io.Writer, opts filterOptions) error {
	f, err := buildFilter(opts.MinAge, opts.MaxAge, opts.Gender)
	if err != nil {
		return err
	}

	var matched []types.FaceObservation
	switch {
	case opts.Input != "":
		obs, err := results.ReadFile(opts.Input)
		if err != nil {
			return err
		}
		matched = f.Apply(obs)
	case opts.ScanID != "":
		db, err := requireDB()
		if err != nil {
			return err
		}
		matched, err = db.ScanObservations(ctx, opts.ScanID, f)
		if err != nil {
			return err
		}
	default:
		return errors.New("one of --input or --scan is required")
	}

	if len(matched) == 0 {
		fmt.Fprintln(w, "No faces match the filter.")
		return nil
	}
	printObservations(w, matched)
	return nil
}

// printObservations writes one "Age, Gender, Time" line per observation.
func printObservations(w io.Writer, obs []types.FaceObservation) {
	for _, o := range obs {
		fmt.Fprintf(w, "Age: %d, Gender: %s, Time: %s\n", o.Age, o.Gender, utils.FmtTime(o.Time))
	}
}
