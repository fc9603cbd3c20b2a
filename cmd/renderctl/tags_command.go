package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTagsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tags <file.dcm>",
		Short: "Print the header dump of a DICOM file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := ctx.newRunEnv(true, 0, 0)
			out, err := env.factory.Dumper.Dump(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("dump %s: %w", args[0], err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
