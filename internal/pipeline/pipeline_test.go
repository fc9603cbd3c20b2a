package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/metrics"
	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/otcheredev/ris-dicom-renderer/internal/queue"
	"github.com/otcheredev/ris-dicom-renderer/internal/series"
	"github.com/otcheredev/ris-dicom-renderer/internal/store"
	"github.com/otcheredev/ris-dicom-renderer/internal/tasks"
	"github.com/otcheredev/ris-dicom-renderer/internal/testsupport"
	"github.com/otcheredev/ris-dicom-renderer/internal/workers"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	dir     string
	store   *store.MemoryStore
	series  *queue.MemorySeriesQueue
	tasks   *queue.TaskQueue[tasks.GeneratorTask]
	tracker *series.Tracker
	factory *tasks.Factory
	watcher *Watcher
	clock   *fakeClock
}

func newHarness(t *testing.T, gridSize int) *harness {
	t.Helper()
	h := &harness{
		dir:     t.TempDir(),
		store:   store.NewMemoryStore(),
		series:  queue.NewMemorySeriesQueue(16),
		tasks:   queue.NewTaskQueue[tasks.GeneratorTask](),
		tracker: series.NewTracker(),
		clock:   newFakeClock(),
	}
	h.factory = &tasks.Factory{
		Env:      &tasks.Env{Store: h.store},
		Layout:   tasks.Layout{Root: filepath.Join(h.dir, "out")},
		GridSize: gridSize,
		TileSize: 8,
	}
	h.watcher = NewWatcher(WatcherConfig{
		PollInterval: 10 * time.Millisecond,
		Clock:        h.clock.Now,
	}, h.series, h.tasks, h.tracker, h.store, h.factory, metrics.NewPipeline(prometheus.NewRegistry()))
	return h
}

// addInstance writes a DICOM file and registers it with the store
func (h *harness) addInstance(t *testing.T, seriesUID string, number int) models.InstanceFile {
	t.Helper()
	uid := fmt.Sprintf("%s.%d", seriesUID, number)
	inst := models.InstanceFile{
		SeriesUID:      seriesUID,
		StudyUID:       "1.2.3",
		InstanceUID:    uid,
		InstanceNumber: number,
		FilePath:       filepath.Join(h.dir, "in", uid+".dcm"),
		Modality:       "CT",
	}
	testsupport.WriteDICOM(t, inst.FilePath, testsupport.Gradient(seriesUID, uid, number))
	if err := h.store.RegisterInstance(context.Background(), inst); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}
	return inst
}

// runQueued runs every queued task in the calling goroutine
func (h *harness) runQueued(t *testing.T) []tasks.GeneratorTask {
	t.Helper()
	var ran []tasks.GeneratorTask
	for {
		task, ok := h.tasks.Poll(context.Background(), 10*time.Millisecond)
		if !ok {
			return ran
		}
		task.Run(context.Background())
		ran = append(ran, task)
	}
}

func (h *harness) discover(t *testing.T, seriesUID string, count int) {
	t.Helper()
	err := h.series.Offer(context.Background(), models.SeriesDescriptor{SeriesUID: seriesUID, StudyUID: "1.2.3", InstanceCount: count})
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
}

func TestSeriesCompletesAndRetires(t *testing.T) {
	h := newHarness(t, 16)
	h.watcher.cfg.InstanceNumberBase = 0
	ctx := context.Background()

	h.addInstance(t, "S1", 0)
	h.addInstance(t, "S1", 2)
	h.discover(t, "S1", 3)

	h.watcher.Iterate(ctx)
	st, ok := h.tracker.Get("S1")
	if !ok {
		t.Fatal("S1 not tracked")
	}
	if st.IsComplete() {
		t.Fatal("S1 complete with instances {0,2}")
	}
	if st.State() != series.StateInPipeline {
		t.Errorf("state = %s, want IN_PIPELINE", st.State())
	}
	if ran := h.runQueued(t); len(ran) != 2 {
		t.Fatalf("ran %d tasks, want 2", len(ran))
	}

	h.addInstance(t, "S1", 1)
	h.watcher.Iterate(ctx)
	if !st.IsComplete() {
		t.Fatal("S1 not complete after instance 1")
	}
	if _, ok := h.tracker.Get("S1"); !ok {
		t.Fatal("S1 retired before its grid was queued")
	}
	h.runQueued(t)

	h.watcher.Iterate(ctx)
	if _, ok := h.tracker.Get("S1"); ok {
		t.Error("complete S1 still tracked after grid stage")
	}
	grids := h.runQueued(t)
	if len(grids) != 1 || grids[0].Type() != tasks.TypeGrid {
		t.Fatalf("grid tasks = %d, want 1", len(grids))
	}
	rec, err := h.store.GetFile(ctx, grids[0].OutputFile())
	if err != nil || rec.Status != models.StatusDone {
		t.Errorf("grid record = %+v, %v", rec, err)
	}
}

func TestIdleSeriesRetired(t *testing.T) {
	h := newHarness(t, 16)
	ctx := context.Background()

	h.discover(t, "idle", 5)
	h.watcher.Iterate(ctx)
	if h.tracker.Len() != 1 {
		t.Fatalf("tracked = %d, want 1", h.tracker.Len())
	}

	h.clock.Advance(series.DefaultIdleTimeout)
	h.watcher.Iterate(ctx)
	if h.tracker.Len() != 1 {
		t.Fatal("series retired at exactly the idle timeout")
	}

	h.clock.Advance(time.Millisecond)
	h.watcher.Iterate(ctx)
	if h.tracker.Len() != 0 {
		t.Error("idle series still tracked")
	}
}

func TestPendingWorkKeepsSeriesActive(t *testing.T) {
	h := newHarness(t, 16)
	ctx := context.Background()

	h.addInstance(t, "busy", 1)
	h.addInstance(t, "busy", 2)
	h.discover(t, "busy", 3)
	h.watcher.Iterate(ctx)

	// one conversion finishes between iterations
	h.clock.Advance(20 * time.Second)
	task, ok := h.tasks.Poll(ctx, 10*time.Millisecond)
	if !ok {
		t.Fatal("nothing queued")
	}
	task.Run(ctx)
	h.watcher.Iterate(ctx)

	h.clock.Advance(20 * time.Second)
	h.watcher.Iterate(ctx)
	if _, ok := h.tracker.Get("busy"); !ok {
		t.Fatal("series with converting instances retired as idle")
	}
	if n := h.tasks.Len(); n != 1 {
		t.Errorf("in-flight instance queued again: queue length %d", n)
	}
}

func TestStuckInstanceSeriesRetiresWhenIdle(t *testing.T) {
	h := newHarness(t, 16)
	ctx := context.Background()

	h.addInstance(t, "stuck", 1)
	h.discover(t, "stuck", 3)
	h.watcher.Iterate(ctx)

	// the queued task is lost without running; its row stays IN_PIPELINE
	if _, ok := h.tasks.Poll(ctx, 10*time.Millisecond); !ok {
		t.Fatal("nothing queued")
	}

	h.clock.Advance(series.DefaultIdleTimeout / 2)
	h.watcher.Iterate(ctx)
	if _, ok := h.tracker.Get("stuck"); !ok {
		t.Fatal("series retired before the idle timeout")
	}

	h.clock.Advance(series.DefaultIdleTimeout/2 + time.Millisecond)
	h.watcher.Iterate(ctx)
	if _, ok := h.tracker.Get("stuck"); ok {
		t.Error("series with only stuck rows still tracked after the idle timeout")
	}
	if n := h.tasks.Len(); n != 0 {
		t.Errorf("stuck row queued again: queue length %d", n)
	}
}

func TestInstanceBelowNumberBaseDoesNotCompleteSeries(t *testing.T) {
	h := newHarness(t, 16)
	h.watcher.cfg.InstanceNumberBase = 1
	ctx := context.Background()

	h.addInstance(t, "base", 0)
	h.discover(t, "base", 1)
	h.watcher.Iterate(ctx)

	st, ok := h.tracker.Get("base")
	if !ok {
		t.Fatal("series not tracked")
	}
	if st.Progress.CompletedCount() != 0 || st.IsComplete() {
		t.Errorf("instance number 0 filled a slot with base 1: completed=%d", st.Progress.CompletedCount())
	}
	if h.tasks.Len() != 1 {
		t.Errorf("instance number 0 not converted: queue length %d", h.tasks.Len())
	}
}

func TestGridRequestedOnce(t *testing.T) {
	h := newHarness(t, 16)
	ctx := context.Background()

	for i := 1; i <= 16; i++ {
		inst := h.addInstance(t, "S2", i)
		h.factory.ForInstance(inst).Run(ctx)
	}

	h.discover(t, "S2", 16)
	h.watcher.Iterate(ctx)

	grids := h.runQueued(t)
	if len(grids) != 1 {
		t.Fatalf("grid tasks = %d, want 1", len(grids))
	}
	grid := grids[0].(*tasks.GridTask)
	if len(grid.Inputs()) != 16 {
		t.Errorf("grid inputs = %d, want 16", len(grid.Inputs()))
	}
	f, err := os.Open(grid.OutputFile())
	if err != nil {
		t.Fatalf("grid output missing: %v", err)
	}
	cfg, err := png.DecodeConfig(f)
	f.Close()
	if err != nil || cfg.Width != 32 || cfg.Height != 32 {
		t.Errorf("grid config = %+v, %v; want 32x32", cfg, err)
	}
	if h.tracker.Len() != 0 {
		t.Error("complete S2 still tracked")
	}

	h.discover(t, "S2", 16)
	h.watcher.Iterate(ctx)
	if again := h.runQueued(t); len(again) != 0 {
		t.Errorf("grid requested again: %d tasks", len(again))
	}
}

func TestRejectsEmptySeries(t *testing.T) {
	h := newHarness(t, 16)
	h.discover(t, "empty", 0)
	h.watcher.Iterate(context.Background())
	if h.tracker.Len() != 0 {
		t.Error("series with zero instances tracked")
	}
}

func TestWatcherRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, 16)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.watcher.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestConcurrentTasksNoLostUpdates(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemoryStore()
	input := filepath.Join(dir, "shared.dcm")
	testsupport.WriteDICOM(t, input, testsupport.Gradient("bulk", "bulk.0", 0))

	p := New(Config{
		WatcherPollInterval:    20 * time.Millisecond,
		DispatcherPollInterval: 20 * time.Millisecond,
		PNGWorkers:             20,
		TagWorkers:             20,
		OutputRoot:             filepath.Join(dir, "out"),
	}, st, queue.NewMemorySeriesQueue(4), nil, metrics.NewPipeline(prometheus.NewRegistry()))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const total = 1000
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			batch := make([]models.InstanceFile, 0, total/10)
			for i := g * 100; i < (g+1)*100; i++ {
				path := input
				if i%10 == 0 {
					path = filepath.Join(dir, "missing", fmt.Sprintf("%d.dcm", i))
				}
				batch = append(batch, models.InstanceFile{
					SeriesUID:      fmt.Sprintf("bulk-%d", g),
					StudyUID:       "1.2.3",
					InstanceUID:    fmt.Sprintf("bulk.%d", i),
					InstanceNumber: i,
					FilePath:       path,
				})
			}
			if _, err := p.Reprocess(context.Background(), batch); err != nil {
				t.Errorf("Reprocess: %v", err)
			}
		}(g)
	}
	wg.Wait()

	finished := func() (done, failed int) {
		for _, rec := range st.Files() {
			if rec.Type != models.FileTypePNG {
				continue
			}
			switch rec.Status {
			case models.StatusDone:
				done++
			case models.StatusError:
				failed++
			}
		}
		return done, failed
	}
	waitFor(t, 30*time.Second, func() bool {
		d, f := finished()
		return d+f == total
	})

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	rows := 0
	for _, rec := range st.Files() {
		if rec.Type == models.FileTypePNG {
			rows++
		}
	}
	done, failed := finished()
	if rows != total || done != 900 || failed != 100 {
		t.Errorf("rows=%d done=%d failed=%d, want 1000/900/100", rows, done, failed)
	}
}

func TestDispatcherPairsHeaderDump(t *testing.T) {
	h := newHarness(t, 16)
	h.factory.Tags = true
	h.factory.Dumper = tasks.NativeDumper{}

	renderPool := newTestPool(t, "render")
	tagPool := newTestPool(t, "tags")
	d := NewDispatcher(10*time.Millisecond, h.tasks, renderPool, tagPool, h.factory)

	inst := h.addInstance(t, "paired", 1)
	task := h.factory.ForInstance(inst)
	d.dispatch(context.Background(), task)
	renderPool.Shutdown()
	tagPool.Shutdown()

	ctx := context.Background()
	pngRec, err := h.store.GetFile(ctx, task.OutputFile())
	if err != nil || pngRec.Status != models.StatusDone {
		t.Errorf("png record = %+v, %v", pngRec, err)
	}
	tagRec, err := h.store.GetFile(ctx, task.TagFile())
	if err != nil || tagRec.Status != models.StatusDone || tagRec.Type != models.FileTypeTag {
		t.Errorf("tag record = %+v, %v", tagRec, err)
	}
}

func TestDispatcherHeaderFailureIndependent(t *testing.T) {
	h := newHarness(t, 16)
	h.factory.Tags = true
	h.factory.Dumper = failingDumper{}

	renderPool := newTestPool(t, "render")
	tagPool := newTestPool(t, "tags")
	d := NewDispatcher(10*time.Millisecond, h.tasks, renderPool, tagPool, h.factory)

	task := h.factory.ForInstance(h.addInstance(t, "paired", 1))
	d.dispatch(context.Background(), task)
	renderPool.Shutdown()
	tagPool.Shutdown()

	ctx := context.Background()
	if rec, _ := h.store.GetFile(ctx, task.OutputFile()); rec == nil || rec.Status != models.StatusDone {
		t.Errorf("png record = %+v, want DONE", rec)
	}
	if rec, _ := h.store.GetFile(ctx, task.TagFile()); rec == nil || rec.Status != models.StatusError {
		t.Errorf("tag record = %+v, want ERROR", rec)
	}
}

// blockingDumper hangs every dump until release is closed
type blockingDumper struct{ release chan struct{} }

func (d blockingDumper) Dump(ctx context.Context, input string) ([]byte, error) {
	<-d.release
	return []byte("dump\n"), nil
}

func TestHungHeaderDumpDoesNotStallConversion(t *testing.T) {
	h := newHarness(t, 16)
	dumper := blockingDumper{release: make(chan struct{})}
	h.factory.Tags = true
	h.factory.Dumper = dumper

	renderPool := workers.NewPool("render", 4, 4)
	tagPool := workers.NewPool("tags", 1, 1)
	d := NewDispatcher(10*time.Millisecond, h.tasks, renderPool, tagPool, h.factory)

	var outputs []string
	for i := 1; i <= 6; i++ {
		task := h.factory.ForInstance(h.addInstance(t, "hung", i))
		outputs = append(outputs, task.OutputFile())
		h.tasks.Offer(task)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()

	waitFor(t, 10*time.Second, func() bool {
		for _, out := range outputs {
			rec, err := h.store.GetFile(context.Background(), out)
			if err != nil || rec.Status != models.StatusDone {
				return false
			}
		}
		return true
	})
	if n := h.tasks.Len(); n != 0 {
		t.Errorf("task queue left = %d, want 0", n)
	}

	cancel()
	<-stopped
	close(dumper.release)
	renderPool.Shutdown()
	tagPool.Shutdown()

	for _, out := range outputs {
		rec, err := h.store.GetFile(context.Background(), tasks.TagPathFor(out))
		if err != nil || rec.Status != models.StatusDone {
			t.Errorf("tag record for %s = %+v, %v", out, rec, err)
		}
	}
}

func TestDispatchReleasesTransientInputWhenNotSubmitted(t *testing.T) {
	h := newHarness(t, 16)
	h.factory.Tags = true

	renderPool := workers.NewPool("render", 1, 1)
	tagPool := workers.NewPool("tags", 1, 1)
	renderPool.Shutdown()
	tagPool.Shutdown()
	d := NewDispatcher(10*time.Millisecond, h.tasks, renderPool, tagPool, h.factory)

	inst := h.addInstance(t, "dropped", 1)
	transient := filepath.Join(filepath.Dir(inst.FilePath), "tmp-dropped.dcm")
	if err := os.Rename(inst.FilePath, transient); err != nil {
		t.Fatal(err)
	}
	inst.FilePath = transient

	d.dispatch(context.Background(), h.factory.ForInstance(inst))
	if _, err := os.Stat(transient); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("transient input still present after a refused submit: %v", err)
	}
}

type failingDumper struct{}

func (failingDumper) Dump(context.Context, string) ([]byte, error) {
	return nil, errors.New("dump exploded")
}

func TestStartResetsInFlightAndLocks(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemoryStore()
	ctx := context.Background()
	stale := filepath.Join(dir, "stale.png")
	if err := st.UpsertFileStatus(ctx, models.FileUpdate{Path: stale, Type: models.FileTypePNG, Status: models.StatusInPipeline}); err != nil {
		t.Fatal(err)
	}

	lockPath := filepath.Join(dir, "run", "pipeline.lock")
	newPipeline := func() *Pipeline {
		return New(Config{
			WatcherPollInterval:    10 * time.Millisecond,
			DispatcherPollInterval: 10 * time.Millisecond,
			PNGWorkers:             1,
			TagWorkers:             1,
			OutputRoot:             dir,
			LockFile:               lockPath,
		}, st, queue.NewMemorySeriesQueue(1), nil, nil)
	}

	p := newPipeline()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec, _ := st.GetFile(ctx, stale); rec.Status != models.StatusNew {
		t.Errorf("stale status = %s, want NEW", rec.Status)
	}
	if err := p.Start(ctx); err == nil {
		t.Error("second Start succeeded")
	}

	other := newPipeline()
	if err := other.Start(ctx); !errors.Is(err, ErrLocked) {
		t.Errorf("concurrent Start err = %v, want ErrLocked", err)
	}
	_ = other.Shutdown()

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if s := p.Stats(ctx); s.Running {
		t.Error("stats report running after shutdown")
	}

	lock, err := AcquireLock(lockPath)
	if err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	_ = lock.Release()
}

func TestReprocessValidates(t *testing.T) {
	p := New(Config{OutputRoot: t.TempDir(), PNGWorkers: 1, TagWorkers: 1}, store.NewMemoryStore(), queue.NewMemorySeriesQueue(1), nil, nil)
	defer p.Shutdown()

	n, err := p.Reprocess(context.Background(), []models.InstanceFile{
		{SeriesUID: "s", InstanceUID: "ok", FilePath: "/in/ok.dcm"},
		{SeriesUID: "s", InstanceUID: "no-path"},
	})
	if n != 1 || err == nil {
		t.Errorf("Reprocess = %d, %v; want 1 and an error", n, err)
	}
	if s := p.Stats(context.Background()); s.TaskQueue != 1 {
		t.Errorf("task queue = %d, want 1", s.TaskQueue)
	}
}

func TestDiscoverValidates(t *testing.T) {
	sq := queue.NewMemorySeriesQueue(2)
	p := New(Config{OutputRoot: t.TempDir(), PNGWorkers: 1, TagWorkers: 1}, store.NewMemoryStore(), sq, nil, nil)
	defer p.Shutdown()

	ctx := context.Background()
	if err := p.Discover(ctx, models.SeriesDescriptor{SeriesUID: "s"}); !errors.Is(err, series.ErrNoInstances) {
		t.Errorf("err = %v, want ErrNoInstances", err)
	}
	if err := p.Discover(ctx, models.SeriesDescriptor{SeriesUID: "s", InstanceCount: 2}); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if n, _ := sq.Len(ctx); n != 1 {
		t.Errorf("series queue = %d, want 1", n)
	}
}

func TestLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	first, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if _, err := AcquireLock(path); !errors.Is(err, ErrLocked) {
		t.Errorf("second lock err = %v, want ErrLocked", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = again.Release()
}

