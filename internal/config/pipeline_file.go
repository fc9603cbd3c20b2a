package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// pipelineFile is the TOML overlay of PipelineConfig. Unset keys keep the
// environment value; intervals are milliseconds.
type pipelineFile struct {
	WatcherPollIntervalMS    *int      `toml:"watcher_poll_interval_ms"`
	DispatcherPollIntervalMS *int      `toml:"dispatcher_poll_interval_ms"`
	IdleTimeoutMS            *int      `toml:"idle_timeout_ms"`
	InstanceNumberBase       *int      `toml:"instance_number_base"`
	PNGWorkers               *int      `toml:"png_workers"`
	TagWorkers               *int      `toml:"tag_workers"`
	PoolQueueSize            *int      `toml:"pool_queue_size"`
	GridSize                 *int      `toml:"grid_size"`
	GridTileSize             *int      `toml:"grid_tile_size"`
	OutputRoot               *string   `toml:"output_root"`
	Tags                     *bool     `toml:"tags"`
	DumpBinary               *string   `toml:"dump_binary"`
	DumpArgs                 *[]string `toml:"dump_args"`
	DumpWorkDir              *string   `toml:"dump_workdir"`
	DumpTimeoutMS            *int      `toml:"dump_timeout_ms"`
	LockFile                 *string   `toml:"lock_file"`
}

// ApplyFile overlays the TOML file at path onto p
func (p *PipelineConfig) ApplyFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open pipeline config: %w", err)
	}
	defer file.Close()

	var f pipelineFile
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&f); err != nil {
		return fmt.Errorf("parse pipeline config: %w", err)
	}

	setDuration(&p.WatcherPollInterval, f.WatcherPollIntervalMS)
	setDuration(&p.DispatcherPollInterval, f.DispatcherPollIntervalMS)
	setDuration(&p.IdleTimeout, f.IdleTimeoutMS)
	setDuration(&p.DumpTimeout, f.DumpTimeoutMS)
	set(&p.InstanceNumberBase, f.InstanceNumberBase)
	set(&p.PNGWorkers, f.PNGWorkers)
	set(&p.TagWorkers, f.TagWorkers)
	set(&p.PoolQueueSize, f.PoolQueueSize)
	set(&p.GridSize, f.GridSize)
	set(&p.GridTileSize, f.GridTileSize)
	set(&p.OutputRoot, f.OutputRoot)
	set(&p.Tags, f.Tags)
	set(&p.DumpBinary, f.DumpBinary)
	set(&p.DumpArgs, f.DumpArgs)
	set(&p.DumpWorkDir, f.DumpWorkDir)
	set(&p.LockFile, f.LockFile)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, ms *int) {
	if ms != nil {
		*dst = time.Duration(*ms) * time.Millisecond
	}
}
