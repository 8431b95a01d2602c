package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/snuttify/snuttify/internal/artifacts"
	"github.com/snuttify/snuttify/internal/errs"
	"github.com/snuttify/snuttify/internal/logging"
	"github.com/snuttify/snuttify/internal/pipeline"
	"github.com/snuttify/snuttify/internal/progress"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var (
		outputDir         string
		skipAudio         bool
		skipTranscription bool
		skipFrames        bool
		prepareOnly       bool
		jsonOutput        bool
	)

	cmd := &cobra.Command{
		Use:   "process <video>",
		Short: "Process one video into snippets, reusing existing artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoPath, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(videoPath); err != nil {
				return errs.Wrap(errs.ErrNotFound, "", "process", videoPath, nil)
			}

			videoID := artifacts.VideoID(videoPath)
			dir := outputDir
			if dir == "" {
				dir = artifacts.NewLayout(ctx.config.Paths.LibraryDir, videoID).Dir()
			}
			job := pipeline.Job{
				VideoID:           videoID,
				VideoPath:         videoPath,
				OutputDir:         dir,
				SkipAudio:         skipAudio,
				SkipTranscription: skipTranscription,
				SkipFrames:        skipFrames,
			}

			database, history, err := ctx.openHistory()
			if err != nil {
				return err
			}
			defer database.Close()

			store := progress.NewStore(logging.WithComponent(ctx.loggerValue(), "progress"))
			orch := ctx.newOrchestrator(store, history)

			var res *pipeline.Result
			if prepareOnly {
				res, err = orch.Prepare(cmd.Context(), job)
			} else {
				res, err = orch.Run(cmd.Context(), job)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, res)
			}
			fmt.Fprintf(out, "Processed %s into %s\n", videoID, dir)
			for _, s := range res.Snippets {
				fmt.Fprintf(out, "  %-12s %-40s %s\n", s.ID, s.Title, orDash(s.VideoPath))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Video output directory (default <library>/<video id>)")
	cmd.Flags().BoolVar(&skipAudio, "skip-audio", false, "Skip audio extraction when no audio exists")
	cmd.Flags().BoolVar(&skipTranscription, "skip-transcription", false, "Skip transcription when none exists")
	cmd.Flags().BoolVar(&skipFrames, "skip-frames", false, "Skip frame extraction when no frames exist")
	cmd.Flags().BoolVar(&prepareOnly, "prepare-only", false, "Stop after audio, transcription and frames")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	return cmd
}
