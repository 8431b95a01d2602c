package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/snuttify/snuttify/internal/catalog"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status [video-id]",
		Short: "Show recent processing runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, history, err := ctx.openHistory()
			if err != nil {
				return err
			}
			defer database.Close()

			var runs []*catalog.Run
			if len(args) == 1 {
				runs, err = history.VideoHistory(cmd.Context(), args[0], limit)
			} else {
				runs, err = history.History(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprintln(out, renderRunsTable(runs))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the runs as JSON")
	return cmd
}

func renderRunsTable(runs []*catalog.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.Duration().Round(time.Second).String()
		}
		rows = append(rows, []string{
			r.VideoID,
			r.Status,
			strconv.Itoa(r.SnippetCount),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			orDash(r.Error),
		})
	}
	return renderTable(
		[]string{"Video", "Status", "Snippets", "Started", "Duration", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
	)
}
