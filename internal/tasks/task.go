// Package tasks holds the conversion units the pipeline schedules: single
// instance PNGs, grid contact sheets, segmentation masks and header dumps.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/otcheredev/ris-dicom-renderer/internal/store"
	"github.com/rs/zerolog/log"
)

// TaskType labels a GeneratorTask
type TaskType string

const (
	TypePNG  TaskType = "png"
	TypeGrid TaskType = "grid"
	TypeMask TaskType = "mask"
	TypeTags TaskType = "tags"
)

// Persisted error messages
const (
	MsgNotFound = "Dicom file not found"
	MsgIOError  = "IO Error"
)

// GeneratorTask is one-shot, idempotent unit of conversion work. Running it
// again overwrites the same output path and status row.
type GeneratorTask interface {
	SeriesUID() string
	InstanceUID() string
	InputFile() string
	OutputFile() string
	// TagFile is where the paired header dump goes, empty when none applies
	TagFile() string
	Type() TaskType
	FileType() models.FileType
	Run(ctx context.Context) Result
	// Discard gives up a task that will never run, releasing its hold on a
	// transient input
	Discard()
}

// Result is the recorded outcome of a task run
type Result struct {
	Status  models.FileStatus
	Size    int64
	Message string
	Err     error
}

// Observer is notified when a task finishes
type Observer interface {
	TaskFinished(taskType TaskType, status models.FileStatus, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) TaskFinished(TaskType, models.FileStatus, time.Duration) {}

// Env carries the collaborators every task needs
type Env struct {
	Store    store.FileStore
	Observer Observer
}

func (e *Env) observer() Observer {
	if e == nil || e.Observer == nil {
		return nopObserver{}
	}
	return e.Observer
}

// base holds the fields shared by every task kind
type base struct {
	env         *Env
	seriesUID   string
	instanceUID string
	input       string
	output      string
	tagFile     string
	lease       *inputLease
}

func newBase(env *Env, seriesUID, instanceUID, input, output string) base {
	b := base{env: env, seriesUID: seriesUID, instanceUID: instanceUID, input: input, output: output}
	if IsTransient(input) {
		b.lease = &inputLease{path: input}
		b.lease.refs.Store(1)
	}
	return b
}

// inputLease deletes a transient input once every task sharing it finished
type inputLease struct {
	path string
	refs atomic.Int32
}

func (l *inputLease) acquire() *inputLease {
	if l != nil {
		l.refs.Add(1)
	}
	return l
}

func (l *inputLease) release() error {
	if l == nil || l.refs.Add(-1) > 0 {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (b *base) SeriesUID() string   { return b.seriesUID }
func (b *base) InstanceUID() string { return b.instanceUID }
func (b *base) InputFile() string   { return b.input }
func (b *base) OutputFile() string  { return b.output }
func (b *base) TagFile() string     { return b.tagFile }

// TagPathFor derives the tag file path from an output path
func TagPathFor(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + ".txt"
}

// IsTransient reports whether path names a temporary artifact that must be
// removed once processed
func IsTransient(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".tmp") || strings.HasPrefix(name, "tmp-")
}

// ErrorMessage maps a task failure to the persisted error message
func ErrorMessage(err error) string {
	var pathErr *fs.PathError
	var linkErr *os.LinkError
	var sysErr *os.SyscallError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return MsgNotFound
	case errors.As(err, &pathErr), errors.As(err, &linkErr), errors.As(err, &sysErr):
		return MsgIOError
	default:
		return "Error: " + err.Error()
	}
}

// renderFunc produces the output file contents
type renderFunc func(ctx context.Context, out *os.File) error

// execute runs render against the task's output and records the outcome.
// Nothing escapes: errors and panics end up as an ERROR row.
func (b *base) execute(ctx context.Context, taskType TaskType, fileType models.FileType, inputs []string, render renderFunc) (res Result) {
	start := time.Now()
	logger := log.With().
		Str("task_type", string(taskType)).
		Str("series_uid", b.seriesUID).
		Str("input", b.input).
		Str("output", b.output).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			res = b.fail(ctx, fileType, fmt.Errorf("panic during %s: %v", taskType, r))
		}
		if err := b.lease.release(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove transient input")
		}
		b.env.observer().TaskFinished(taskType, res.Status, time.Since(start))

		ev := logger.Debug()
		if res.Status == models.StatusError {
			ev = logger.Warn().Err(res.Err).Str("error_message", res.Message)
		}
		ev.Dur("duration", time.Since(start)).Str("status", string(res.Status)).Msg("Task finished")
	}()

	for _, in := range inputs {
		if _, err := os.Stat(in); err != nil {
			return b.fail(ctx, fileType, err)
		}
	}

	if err := b.write(ctx, render); err != nil {
		return b.fail(ctx, fileType, err)
	}

	info, err := os.Stat(b.output)
	if err != nil {
		return b.fail(ctx, fileType, err)
	}
	res = Result{Status: models.StatusDone, Size: info.Size()}
	b.record(ctx, fileType, res)
	return res
}

// write creates the output file and always closes it; a failed render
// leaves no partial file behind
func (b *base) write(ctx context.Context, render renderFunc) (err error) {
	if err := os.MkdirAll(filepath.Dir(b.output), 0o755); err != nil {
		return err
	}
	out, err := os.Create(b.output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(b.output)
		}
	}()

	return render(ctx, out)
}

func (b *base) fail(ctx context.Context, fileType models.FileType, err error) Result {
	res := Result{Status: models.StatusError, Message: ErrorMessage(err), Err: err}
	b.record(ctx, fileType, res)
	return res
}

func (b *base) record(ctx context.Context, fileType models.FileType, res Result) {
	if b.env == nil || b.env.Store == nil {
		return
	}
	update := models.FileUpdate{
		Path:         b.output,
		InstanceUID:  b.instanceUID,
		SeriesUID:    b.seriesUID,
		Type:         fileType,
		Size:         res.Size,
		Status:       res.Status,
		ErrorMessage: res.Message,
	}
	// the status write must land even when the run context was cancelled
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := b.env.Store.UpsertFileStatus(writeCtx, update); err != nil {
		log.Error().Err(err).Str("output", b.output).Msg("Failed to record file status")
	}
}

func (b *base) sharedLease() *inputLease { return b.lease }

func (b *base) Discard() {
	if err := b.lease.release(); err != nil {
		log.Warn().Err(err).Str("input", b.input).Msg("Failed to remove transient input")
	}
}
