package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/suyashkumar/dicom"
)

// DefaultDumpTimeout bounds one external dump process
const DefaultDumpTimeout = 60 * time.Second

// Dumper produces the textual header listing of a DICOM file
type Dumper interface {
	Dump(ctx context.Context, input string) ([]byte, error)
}

// ExternalDumper runs a dcmdump-style binary with the input path as its last argument
type ExternalDumper struct {
	Binary  string
	Args    []string
	WorkDir string
	Timeout time.Duration
}

// Dump runs the binary, killing it when the timeout elapses
func (d *ExternalDumper) Dump(ctx context.Context, input string) ([]byte, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDumpTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, d.Args...), input)
	cmd := exec.CommandContext(ctx, d.Binary, args...)
	cmd.Dir = d.WorkDir
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %s", filepath.Base(d.Binary), timeout)
		}
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s failed: %w: %s", filepath.Base(d.Binary), err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("%s failed: %w", filepath.Base(d.Binary), err)
	}
	return stdout.Bytes(), nil
}

// NativeDumper lists the dataset in process without pixel data
type NativeDumper struct{}

// Dump parses input and writes one line per top-level element
func (NativeDumper) Dump(ctx context.Context, input string) ([]byte, error) {
	if _, err := os.Stat(input); err != nil {
		return nil, err
	}
	ds, err := dicom.ParseFile(input, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("failed to parse dicom: %w", err)
	}

	var buf bytes.Buffer
	for _, elem := range ds.Elements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf.WriteString(elem.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// HeaderTask writes the header dump of a task's input next to its output.
// Its outcome is recorded as a TAG row and never touches the paired row.
type HeaderTask struct {
	base
	dumper Dumper
}

// NewHeaderTask creates the header dump paired with task. It shares the
// transient input of task so neither deletes it under the other.
func NewHeaderTask(env *Env, task GeneratorTask, dumper Dumper) *HeaderTask {
	if dumper == nil {
		dumper = NativeDumper{}
	}
	h := &HeaderTask{
		base: base{
			env:         env,
			seriesUID:   task.SeriesUID(),
			instanceUID: task.InstanceUID(),
			input:       task.InputFile(),
			output:      task.TagFile(),
		},
		dumper: dumper,
	}
	if leased, ok := task.(interface{ sharedLease() *inputLease }); ok {
		h.lease = leased.sharedLease().acquire()
	}
	return h
}

func (t *HeaderTask) Type() TaskType            { return TypeTags }
func (t *HeaderTask) FileType() models.FileType { return models.FileTypeTag }

// Run dumps the header and records the TAG status row
func (t *HeaderTask) Run(ctx context.Context) Result {
	if t.output == "" {
		log.Warn().Str("input", t.input).Msg("Header task without tag file")
		_ = t.lease.release()
		return Result{Status: models.StatusError, Message: "Error: no tag file"}
	}
	return t.execute(ctx, TypeTags, models.FileTypeTag, []string{t.input}, func(ctx context.Context, out *os.File) error {
		dump, err := t.dumper.Dump(ctx, t.input)
		if err != nil {
			return err
		}
		_, err = out.Write(dump)
		return err
	})
}
