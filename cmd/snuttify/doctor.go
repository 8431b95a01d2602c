package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/snuttify/snuttify/internal/doctor"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that ffmpeg, ffprobe and the OpenAI key are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := ctx.doctorCheck().Refresh(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := writeJSON(out, caps); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, renderDoctorTable(caps))
			}
			if !caps.AllOK {
				return fmt.Errorf("some dependencies are missing")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	return cmd
}

func renderDoctorTable(caps *doctor.Capabilities) string {
	names := make([]string, 0, len(caps.Executables))
	for name := range caps.Executables {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names)+1)
	for _, name := range names {
		info := caps.Executables[name]
		rows = append(rows, []string{name, availability(info), orDash(info.Version), orDash(info.Error)})
	}
	rows = append(rows, []string{"openai", availability(caps.OpenAI), "-", orDash(caps.OpenAI.Error)})
	return renderTable([]string{"Dependency", "Status", "Version", "Detail"}, rows, nil)
}

func availability(info doctor.DepInfo) string {
	if info.Available {
		return "ok"
	}
	return "missing"
}
