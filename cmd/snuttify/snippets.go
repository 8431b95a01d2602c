package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/snuttify/snuttify/internal/pipeline"
)

func newSnippetsCommand(ctx *commandContext) *cobra.Command {
	var (
		skipAnalysis bool
		skipExisting bool
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "snippets <transcription.json>",
		Short: "Regroup a transcription into snippets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			orch := ctx.newOrchestrator(nil, nil)
			list, err := orch.Regroup(cmd.Context(), path, pipeline.RegroupOptions{
				SkipAnalysis: skipAnalysis,
				SkipExisting: skipExisting,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, list)
			}
			fmt.Fprintf(out, "Created %d snippets\n", len(list))
			for _, s := range list {
				fmt.Fprintf(out, "  %-12s %s (%d segments)\n", s.ID, s.Title, len(s.Segments))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipAnalysis, "skip-analysis", false, "Reuse the analysis stored in the transcription")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "Keep snippet files already on disk")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the snippets as JSON")
	return cmd
}
