package pipeline

import (
	"testing"

	"github.com/otcheredev/ris-dicom-renderer/internal/workers"
)

func newTestPool(t *testing.T, name string) *workers.Pool {
	t.Helper()
	p := workers.NewPool(name, 2, 4)
	t.Cleanup(p.Shutdown)
	return p
}
