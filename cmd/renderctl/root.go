package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/otcheredev/ris-dicom-renderer/internal/store"
	"github.com/otcheredev/ris-dicom-renderer/internal/tasks"
	"github.com/otcheredev/ris-dicom-renderer/pkg/logger"
	"github.com/spf13/cobra"
)

// commandContext carries the persistent flags shared by every subcommand
type commandContext struct {
	outputRoot string
	logLevel   string
	dumpBinary string
	dumpArgs   []string
}

// runEnv is a throwaway in-memory store plus the factory on top of it
type runEnv struct {
	store   *store.MemoryStore
	factory *tasks.Factory
}

func (c *commandContext) newRunEnv(tags bool, gridSize, tileSize int) *runEnv {
	st := store.NewMemoryStore()
	env := &tasks.Env{Store: st}
	var dumper tasks.Dumper = tasks.NativeDumper{}
	if c.dumpBinary != "" {
		dumper = &tasks.ExternalDumper{Binary: c.dumpBinary, Args: c.dumpArgs}
	}
	return &runEnv{
		store: st,
		factory: &tasks.Factory{
			Env:      env,
			Layout:   tasks.Layout{Root: c.outputRoot},
			GridSize: gridSize,
			TileSize: tileSize,
			Dumper:   dumper,
			Tags:     tags,
		},
	}
}

// taskReport is the JSON line printed for each finished task
type taskReport struct {
	Type    tasks.TaskType    `json:"type"`
	Input   string            `json:"input"`
	Output  string            `json:"output"`
	Status  models.FileStatus `json:"status"`
	Size    int64             `json:"size,omitempty"`
	Message string            `json:"message,omitempty"`
}

func report(task tasks.GeneratorTask, res tasks.Result) taskReport {
	return taskReport{
		Type:    task.Type(),
		Input:   task.InputFile(),
		Output:  task.OutputFile(),
		Status:  res.Status,
		Size:    res.Size,
		Message: res.Message,
	}
}

// runAll runs each task in order, printing one report per task, and fails
// when any task ended in ERROR
func runAll(ctx context.Context, cmd *cobra.Command, ts []tasks.GeneratorTask) error {
	failed := 0
	for _, t := range ts {
		res := t.Run(ctx)
		if res.Status == models.StatusError {
			failed++
		}
		if err := writeJSON(cmd, report(t, res)); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(ts))
	}
	return nil
}

// writeJSON encodes v as one JSON line to the command's stdout
func writeJSON(cmd *cobra.Command, v any) error {
	return json.NewEncoder(cmd.OutOrStdout()).Encode(v)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "renderctl",
		Short:         "Render DICOM instances and drive the renderer service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if ctx.outputRoot == "" {
				return errors.New("--out must not be empty")
			}
			logger.Init(ctx.logLevel, "json")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.outputRoot, "out", "o", "rendered", "Output root directory")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "warn", "Log level")
	rootCmd.PersistentFlags().StringVar(&ctx.dumpBinary, "dump-binary", "", "External header dump program (default: built-in dumper)")
	rootCmd.PersistentFlags().StringSliceVar(&ctx.dumpArgs, "dump-args", nil, "Arguments placed before the input path")

	rootCmd.AddCommand(newConvertCommand(ctx))
	rootCmd.AddCommand(newGridCommand(ctx))
	rootCmd.AddCommand(newTagsCommand(ctx))
	rootCmd.AddCommand(newReprocessCommand())

	return rootCmd
}
