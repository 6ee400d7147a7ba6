package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/sheetpipe/pkg/source"
)

func newSheetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sheets <workbook>",
		Short: "List the sheets of a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := source.ListSheets(args[0])
			if err != nil {
				return err
			}
			for i, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i, name)
			}
			return nil
		},
	}
}
