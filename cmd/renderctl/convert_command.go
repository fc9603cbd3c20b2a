package main

import (
	"fmt"

	"github.com/otcheredev/ris-dicom-renderer/internal/tasks"
	"github.com/spf13/cobra"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var (
		withTags bool
		asMask   bool
	)

	cmd := &cobra.Command{
		Use:   "convert <file.dcm>...",
		Short: "Render DICOM instances to PNG (segmentations to masks)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := ctx.newRunEnv(withTags, 0, 0)

			var run []tasks.GeneratorTask
			for _, path := range args {
				inst, err := tasks.DescribeInstance(path)
				if err != nil {
					return fmt.Errorf("describe %s: %w", path, err)
				}
				if asMask {
					inst.Modality = "SEG"
				}
				task := env.factory.ForInstance(inst)
				run = append(run, task)
				if header := env.factory.HeaderFor(task); header != nil {
					run = append(run, header)
				}
			}
			return runAll(cmd.Context(), cmd, run)
		},
	}

	cmd.Flags().BoolVar(&withTags, "tags", false, "Also write the header dump next to each output")
	cmd.Flags().BoolVar(&asMask, "mask", false, "Treat every input as a segmentation")
	return cmd
}
