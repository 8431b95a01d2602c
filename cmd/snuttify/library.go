package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snuttify/snuttify/internal/library"
)

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	var (
		query      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "library",
		Short: "List or search the snippets of every processed video",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			index := ctx.libraryIndex()
			var (
				items []library.Item
				err   error
			)
			if strings.TrimSpace(query) != "" {
				items, err = index.Search(query)
			} else {
				items, err = index.List()
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, items)
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "No snippets found")
				return nil
			}
			if !isTerminal(out) {
				for _, it := range items {
					fmt.Fprintf(out, "%s\t%s\t%s\n", it.VideoName, it.ID, it.Title)
				}
				return nil
			}
			fmt.Fprintln(out, renderLibraryTable(items))
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "search", "s", "", "Case-insensitive search over titles and transcript text")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the snippets as JSON")
	return cmd
}

func renderLibraryTable(items []library.Item) string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.VideoName,
			it.ID,
			it.Title,
			strconv.Itoa(len(it.Segments)),
			orDash(it.VideoPath),
		})
	}
	return renderTable(
		[]string{"Video", "ID", "Title", "Segments", "Clip"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}
