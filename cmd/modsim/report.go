package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tturner/modsim/internal/metrics"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <metrics.csv>",
		Short: "Summarise a metrics CSV written by a previous run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, first, last, err := metrics.ReadMetricsCSV(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Metrics file: %s\n", args[0])
			if len(rows) > 0 {
				fmt.Fprintf(out, "Window: %s to %s (%s)\n",
					first.Format("15:04:05.000"), last.Format("15:04:05.000"), last.Sub(first).Round(time.Millisecond))
			}
			fmt.Fprint(out, metrics.FormatSummary(metrics.Summarize(rows)))
			return nil
		},
	}
}
