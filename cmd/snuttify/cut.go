package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newCutCommand(ctx *commandContext) *cobra.Command {
	var videoPath string

	cmd := &cobra.Command{
		Use:   "cut <video-dir>",
		Short: "Render the clips listed in a video directory's snippet manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			orch := ctx.newOrchestrator(nil, nil)
			list, res, err := orch.Cut(cmd.Context(), dir, videoPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cut %d, reused %d, skipped %d, failed %d\n", res.Cut, res.Reused, res.Skipped, res.Failed)
			for _, s := range list {
				fmt.Fprintf(out, "  %-12s %s\n", s.ID, orDash(s.VideoPath))
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d clips failed", res.Failed, len(list))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&videoPath, "video", "", "Source video (default: the path recorded in the transcription)")
	return cmd
}
