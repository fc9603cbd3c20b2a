package main

import (
	"errors"
	"fmt"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/otcheredev/ris-dicom-renderer/internal/tasks"
	"github.com/spf13/cobra"
)

func newGridCommand(ctx *commandContext) *cobra.Command {
	var (
		seriesUID string
		studyUID  string
		gridSize  int
		tileSize  int
	)

	cmd := &cobra.Command{
		Use:   "grid <image.png>...",
		Short: "Tile rendered PNGs, in the given order, into grid images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if seriesUID == "" {
				return errors.New("--series is required")
			}
			env := ctx.newRunEnv(false, gridSize, tileSize)

			converted := make([]models.ConvertedInstance, len(args))
			for i, path := range args {
				converted[i] = models.ConvertedInstance{
					SeriesUID:      seriesUID,
					StudyUID:       studyUID,
					InstanceUID:    fmt.Sprintf("%s.%d", seriesUID, i+1),
					InstanceNumber: i + 1,
					FilePath:       path,
				}
			}

			var run []tasks.GeneratorTask
			for _, g := range env.factory.GridTasks(studyUID, converted) {
				run = append(run, g)
			}
			return runAll(cmd.Context(), cmd, run)
		},
	}

	cmd.Flags().StringVar(&seriesUID, "series", "", "Series instance UID the grids belong to")
	cmd.Flags().StringVar(&studyUID, "study", "", "Study instance UID")
	cmd.Flags().IntVar(&gridSize, "size", tasks.DefaultGridSize, "Images per grid")
	cmd.Flags().IntVar(&tileSize, "tile", tasks.DefaultTileSize, "Tile edge in pixels")
	return cmd
}
