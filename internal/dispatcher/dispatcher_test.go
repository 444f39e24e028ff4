package dispatcher

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/not-nullexception/image-orchestrator/config"
	"github.com/not-nullexception/image-orchestrator/internal/apperrors"
	"github.com/not-nullexception/image-orchestrator/internal/db/memory"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/not-nullexception/image-orchestrator/internal/job"
	"github.com/not-nullexception/image-orchestrator/internal/monitor"
	imageprocessor "github.com/not-nullexception/image-orchestrator/internal/processor/image"
	"github.com/not-nullexception/image-orchestrator/internal/worker"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) Send(msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return true
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// gate blocks every pipeline until released.
type gate struct {
	inner   worker.Processor
	started chan models.ID
	release chan struct{}
}

func (g *gate) Process(ctx context.Context, src, dst string, steps []models.Transformation) (*imageprocessor.ProcessingResult, error) {
	g.started <- 0
	<-g.release
	return g.inner.Process(ctx, src, dst, steps)
}

type harness struct {
	fs     afero.Fs
	images *memory.ImageRegistry
	tasks  *memory.TaskRegistry
	out    *recorder
	pool   *worker.Pool
	d      *Dispatcher
}

func newHarness(t *testing.T, wrap func(worker.Processor) worker.Processor) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	clock := clockwork.NewRealClock()
	writePNG(t, fs, "slike/a.png")
	writePNG(t, fs, "slike/b.png")

	images := memory.NewImageRegistry(fs, clock, "slike")
	tasks := memory.NewTaskRegistry(images, clock)
	out := &recorder{}

	mon := monitor.New(tasks, images, out, 16, 10*time.Millisecond, clock)
	go mon.Run(context.Background())

	var proc worker.Processor = imageprocessor.New(fs)
	if wrap != nil {
		proc = wrap(proc)
	}
	pool := worker.New(config.WorkerConfig{Count: 2, QueueSize: 4}, worker.Dependencies{
		Images:    images,
		Tasks:     tasks,
		Processor: proc,
		Notifier:  mon,
		Output:    out,
		Clock:     clock,
	})
	pool.Start(context.Background())

	t.Cleanup(func() {
		pool.Stop()
		mon.Stop()
		<-mon.Done()
	})

	return &harness{
		fs:     fs,
		images: images,
		tasks:  tasks,
		out:    out,
		pool:   pool,
		d:      New(images, tasks, pool, fs, out, 4),
	}
}

func writePNG(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 12, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 20), 100, uint8(y * 20), 255})
		}
	}
	f, err := fs.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func (h *harness) run(t *testing.T, line string) string {
	t.Helper()
	cmd, err := ParseCommand(line)
	require.NoError(t, err, line)
	return h.d.Execute(context.Background(), cmd)
}

func (h *harness) writeJob(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(h.fs, path, []byte(body), 0o644))
}

func waitTerminal(t *testing.T, h *harness, id models.ID) *models.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := h.d.WaitTask(ctx, id)
	require.NoError(t, err)
	return task
}

func TestAddAndList_InsertionOrder(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, "Image added with ID: 1", h.run(t, "add slike/a.png"))
	assert.Equal(t, "Image added with ID: 2", h.run(t, "add slike/b.png"))
	assert.Equal(t, "1: slike/a.png\n2: slike/b.png", h.run(t, "list"))
}

func TestAdd_MissingPath(t *testing.T) {
	h := newHarness(t, nil)

	msg := h.run(t, "add photos/missing.png")
	assert.True(t, strings.HasPrefix(msg, "Error: "), msg)
	assert.Equal(t, "No images registered", h.run(t, "list"))
}

func TestProcess_DescribeShowsCompletion(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t, "add slike/a.png")
	h.writeJob(t, "jobs/b.json", `{"image_id": "1", "transformations": ["grayscale", "blur"], "blur_level": 2, "output_file": "output/b.png"}`)

	assert.Equal(t, "Task 1 created for image 1", h.run(t, "process jobs/b.json"))

	task := waitTerminal(t, h, 1)
	require.Equal(t, models.StatusFinished, task.Status, task.Error)

	img, err := h.d.DescribeImage(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"grayscale", "blur"}, img.FiltersApplied)
	assert.NotNil(t, img.ProcessingTime)
	assert.NotNil(t, img.SizeAfter)
	assert.Empty(t, img.UsedInTasks)

	described := h.run(t, "describe 1")
	assert.Contains(t, described, "filters applied: [grayscale blur]")
	assert.Contains(t, described, "last task: 1")
	assert.NotContains(t, described, "size after: -")

	assert.Equal(t, "1: image 1 finished", h.run(t, "tasks"))

	exists, err := afero.Exists(h.fs, "output/b.png")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDelete_DeferredUntilTaskFinishes(t *testing.T) {
	var g *gate
	h := newHarness(t, func(inner worker.Processor) worker.Processor {
		g = &gate{inner: inner, started: make(chan models.ID, 1), release: make(chan struct{})}
		return g
	})
	h.run(t, "add slike/a.png")
	h.writeJob(t, "jobs/c.json", `{"image_id": 1, "transformations": ["grayscale"], "output_file": "output/c.png"}`)
	h.run(t, "process jobs/c.json")
	<-g.started

	assert.Equal(t, "Deletion of image 1 deferred, in use by 1 tasks", h.run(t, "delete 1"))
	img, err := h.d.DescribeImage(1)
	require.NoError(t, err, "image survives while the task runs")
	assert.True(t, img.DeleteFlag)

	close(g.release)
	task := waitTerminal(t, h, 1)
	assert.Equal(t, models.StatusFinished, task.Status)

	require.Eventually(t, func() bool {
		_, err := h.d.DescribeImage(1)
		return apperrors.IsNotFound(err)
	}, 2*time.Second, 10*time.Millisecond, "deleted without another command")

	exists, err := afero.Exists(h.fs, "slike/a.png")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Eventually(t, func() bool {
		for _, msg := range h.out.all() {
			if msg == "Image 1 deleted after its last task finished" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestProcess_RejectedForFlaggedImage(t *testing.T) {
	var g *gate
	h := newHarness(t, func(inner worker.Processor) worker.Processor {
		g = &gate{inner: inner, started: make(chan models.ID, 1), release: make(chan struct{})}
		return g
	})
	defer close(g.release)

	h.run(t, "add slike/a.png")
	h.writeJob(t, "jobs/d.json", `{"image_id": 1, "transformations": ["grayscale"], "output_file": "output/d.png"}`)
	h.run(t, "process jobs/d.json")
	<-g.started
	h.run(t, "delete 1")

	_, err := h.d.Process(context.Background(), &job.Descriptor{
		ImageID:         1,
		Transformations: []string{"blur"},
		OutputFile:      "output/d2.png",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	msg := h.run(t, "process jobs/d.json")
	assert.Contains(t, msg, "marked for deletion")
	assert.Len(t, h.d.Tasks(), 1, "no task is created")
}

func TestProcess_UnknownTransformCreatesNoTask(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t, "add slike/a.png")
	h.writeJob(t, "jobs/e.json", `{"image_id": 1, "transformations": ["sepia"], "output_file": "output/e.png"}`)

	msg := h.run(t, "process jobs/e.json")
	assert.Contains(t, msg, "unknown transformation")
	assert.Empty(t, h.d.Tasks())

	img, err := h.d.DescribeImage(1)
	require.NoError(t, err)
	assert.Empty(t, img.UsedInTasks)
}

func TestProcess_UnknownImage(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.d.Process(context.Background(), &job.Descriptor{
		ImageID:         9,
		Transformations: []string{"grayscale"},
		OutputFile:      "output/x.png",
	})
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, h.d.Tasks())
}

func TestProcess_ClosedPoolCreatesNoTask(t *testing.T) {
	h := newHarness(t, nil)
	id, err := h.d.AddImage(context.Background(), "slike/a.png")
	require.NoError(t, err)
	h.pool.Stop()

	_, err = h.d.Process(context.Background(), &job.Descriptor{
		ImageID:         id,
		Transformations: []string{"grayscale"},
		OutputFile:      "output/a.png",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, worker.ErrPoolClosed)

	assert.Empty(t, h.d.Tasks())
	assert.Equal(t, 0, h.d.TaskCount())
	img, err := h.d.DescribeImage(id)
	require.NoError(t, err)
	assert.Empty(t, img.UsedInTasks)
	assert.Nil(t, img.LastTaskID)
}

func TestDelete_Immediate(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t, "add slike/a.png")

	assert.Equal(t, "Image 1 deleted", h.run(t, "delete 1"))
	assert.Equal(t, "No images registered", h.run(t, "list"))
	assert.Contains(t, h.run(t, "delete 1"), "not found")
	assert.Contains(t, h.run(t, "describe 1"), "not found")
	assert.Contains(t, h.run(t, "describe x"), "invalid id")
}

func TestFailedTaskReleasesUsage(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, afero.WriteFile(h.fs, "slike/broken.png", []byte("not a png"), 0o644))
	h.run(t, "add slike/broken.png")
	h.writeJob(t, "jobs/f.json", `{"image_id": 1, "transformations": ["grayscale"], "output_file": "output/f.png"}`)

	h.run(t, "process jobs/f.json")
	task := waitTerminal(t, h, 1)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.NotEmpty(t, task.Error)

	assert.Equal(t, "Image 1 deleted", h.run(t, "delete 1"))
}

func TestDispatch_RunsConcurrently(t *testing.T) {
	h := newHarness(t, nil)

	for _, line := range []string{"add slike/a.png", "add slike/b.png", "list"} {
		cmd, err := ParseCommand(line)
		require.NoError(t, err)
		h.d.Dispatch(context.Background(), cmd)
	}
	h.d.Wait()

	msgs := h.out.all()
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs, "Image added with ID: 1")
	assert.Contains(t, msgs, "Image added with ID: 2")
}
