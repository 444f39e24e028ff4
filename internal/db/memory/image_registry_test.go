package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/not-nullexception/image-orchestrator/internal/apperrors"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestImageRegistry(t *testing.T) (*ImageRegistry, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("slike", 0o755))
	require.NoError(t, fs.MkdirAll("src", 0o755))
	return NewImageRegistry(fs, clockwork.NewFakeClock(), "slike"), fs
}

func writeSource(t *testing.T, fs afero.Fs, name string, size int) string {
	t.Helper()
	path := "src/" + name
	require.NoError(t, afero.WriteFile(fs, path, make([]byte, size), 0o644))
	return path
}

func TestRegister_AssignsIncreasingIDsAndCopies(t *testing.T) {
	reg, fs := newTestImageRegistry(t)
	ctx := context.Background()

	id1, err := reg.Register(ctx, writeSource(t, fs, "a.png", 10))
	require.NoError(t, err)
	id2, err := reg.Register(ctx, writeSource(t, fs, "b.png", 20))
	require.NoError(t, err)

	assert.Equal(t, models.ID(1), id1)
	assert.Equal(t, models.ID(2), id2)

	img, err := reg.Describe(id1)
	require.NoError(t, err)
	assert.Equal(t, "slike/a.png", img.Path)
	assert.False(t, img.DeleteFlag)
	assert.Empty(t, img.UsedInTasks)
	require.NotNil(t, img.SizeBefore)
	assert.Equal(t, int64(10), *img.SizeBefore)
	assert.Nil(t, img.SizeAfter)
	assert.Nil(t, img.ProcessingTime)

	copied, err := afero.Exists(fs, "slike/a.png")
	require.NoError(t, err)
	assert.True(t, copied)

	assert.Equal(t, []models.ImageSummary{{ID: 1, Path: "slike/a.png"}, {ID: 2, Path: "slike/b.png"}}, reg.List())
}

func TestRegister_MissingPath(t *testing.T) {
	reg, _ := newTestImageRegistry(t)

	_, err := reg.Register(context.Background(), "src/missing.png")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Zero(t, reg.Count())
}

func TestRegister_NameCollisionGetsPrefixed(t *testing.T) {
	reg, fs := newTestImageRegistry(t)
	ctx := context.Background()
	require.NoError(t, fs.MkdirAll("other", 0o755))
	require.NoError(t, afero.WriteFile(fs, "other/a.png", []byte("x"), 0o644))

	_, err := reg.Register(ctx, writeSource(t, fs, "a.png", 1))
	require.NoError(t, err)
	id, err := reg.Register(ctx, "other/a.png")
	require.NoError(t, err)

	img, err := reg.Describe(id)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("slike/%d_a.png", id), img.Path)
}

func TestRegister_IDsUniqueUnderConcurrency(t *testing.T) {
	reg, fs := newTestImageRegistry(t)
	ctx := context.Background()

	const n = 50
	paths := make([]string, n)
	for i := range paths {
		paths[i] = writeSource(t, fs, fmt.Sprintf("img%02d.png", i), 4)
	}

	ids := make(chan models.ID, n)
	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			id, err := reg.Register(ctx, p)
			assert.NoError(t, err)
			ids <- id
		}(p)
	}
	wg.Wait()
	close(ids)

	seen := make(map[models.ID]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, reg.Count())
}

func TestScan_RegistersExistingFilesInOrder(t *testing.T) {
	reg, fs := newTestImageRegistry(t)
	require.NoError(t, fs.MkdirAll("output", 0o755))
	require.NoError(t, afero.WriteFile(fs, "slike/b.png", []byte("bb"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "slike/a.png", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "output/c.png", []byte("ccc"), 0o644))

	n, err := reg.Scan(context.Background(), "slike", "output", "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, []models.ImageSummary{
		{ID: 1, Path: "slike/a.png"},
		{ID: 2, Path: "slike/b.png"},
		{ID: 3, Path: "output/c.png"},
	}, reg.List())

	n, err = reg.Scan(context.Background(), "slike")
	require.NoError(t, err)
	assert.Zero(t, n, "managed files are not registered twice")
}

func TestMarkUsedAndRelease(t *testing.T) {
	reg, fs := newTestImageRegistry(t)
	id, err := reg.Register(context.Background(), writeSource(t, fs, "a.png", 1))
	require.NoError(t, err)

	require.NoError(t, reg.MarkUsed(id, 1))
	require.NoError(t, reg.MarkUsed(id, 2))

	img, err := reg.Describe(id)
	require.NoError(t, err)
	assert.Equal(t, []models.ID{1, 2}, img.UsedInTasks)
	require.NotNil(t, img.LastTaskID)
	assert.Equal(t, models.ID(2), *img.LastTaskID)

	require.NoError(t, reg.ReleaseUsed(id, 1))
	err = reg.ReleaseUsed(id, 1)
	assert.True(t, apperrors.IsConflict(err), "a usage is released exactly once")

	img, err = reg.Describe(id)
	require.NoError(t, err)
	assert.Equal(t, []models.ID{2}, img.UsedInTasks)

	assert.True(t, apperrors.IsNotFound(reg.MarkUsed(99, 3)))
}

func TestMarkForDeletion_BlocksNewTasks(t *testing.T) {
	reg, fs := newTestImageRegistry(t)
	id, err := reg.Register(context.Background(), writeSource(t, fs, "a.png", 1))
	require.NoError(t, err)

	assert.True(t, reg.CanAcceptTask(id))

	inUse, err := reg.MarkForDeletion(id)
	require.NoError(t, err)
	assert.Zero(t, inUse)

	_, err = reg.MarkForDeletion(id)
	require.NoError(t, err, "marking is idempotent")

	assert.False(t, reg.CanAcceptTask(id))
	assert.True(t, apperrors.IsConflict(reg.MarkUsed(id, 1)))
	assert.False(t, reg.CanAcceptTask(42))
}

func TestTryDelete_OnlyWhenUnused(t *testing.T) {
	reg, fs := newTestImageRegistry(t)
	id, err := reg.Register(context.Background(), writeSource(t, fs, "a.png", 1))
	require.NoError(t, err)
	require.NoError(t, reg.MarkUsed(id, 7))

	_, err = reg.MarkForDeletion(id)
	require.NoError(t, err)

	deleted, err := reg.TryDelete(id)
	require.NoError(t, err)
	assert.False(t, deleted)

	img, err := reg.Describe(id)
	require.NoError(t, err, "record survives a refused delete")
	assert.True(t, img.DeleteFlag, "flag is retained for a later attempt")
	exists, _ := afero.Exists(fs, "slike/a.png")
	assert.True(t, exists)

	require.NoError(t, reg.ReleaseUsed(id, 7))

	deleted, err = reg.TryDelete(id)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = reg.Describe(id)
	assert.True(t, apperrors.IsNotFound(err))
	exists, _ = afero.Exists(fs, "slike/a.png")
	assert.False(t, exists)
	assert.Empty(t, reg.List())

	_, err = reg.TryDelete(id)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestTryDeferredDelete_RequiresFlag(t *testing.T) {
	reg, fs := newTestImageRegistry(t)
	id, err := reg.Register(context.Background(), writeSource(t, fs, "a.png", 1))
	require.NoError(t, err)

	deleted, err := reg.TryDeferredDelete(id)
	require.NoError(t, err)
	assert.False(t, deleted, "unflagged images are kept")

	_, err = reg.MarkForDeletion(id)
	require.NoError(t, err)

	deleted, err = reg.TryDeferredDelete(id)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = reg.TryDeferredDelete(id)
	require.NoError(t, err)
	assert.False(t, deleted, "already gone is not an error")
}

func TestRecordCompletion(t *testing.T) {
	reg, fs := newTestImageRegistry(t)
	id, err := reg.Register(context.Background(), writeSource(t, fs, "a.png", 1))
	require.NoError(t, err)

	require.NoError(t, reg.RecordCompletion(id, []string{"grayscale", "blur"}, 2*time.Second, 123))
	require.NoError(t, reg.RecordCompletion(id, []string{"brightness"}, time.Second, 456))

	img, err := reg.Describe(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"grayscale", "blur", "brightness"}, img.FiltersApplied)
	require.NotNil(t, img.ProcessingTime)
	assert.Equal(t, time.Second, *img.ProcessingTime)
	require.NotNil(t, img.SizeAfter)
	assert.Equal(t, int64(456), *img.SizeAfter)

	assert.True(t, apperrors.IsNotFound(reg.RecordCompletion(99, nil, 0, 0)))
}

func TestConcurrentUsageNeverTears(t *testing.T) {
	reg, fs := newTestImageRegistry(t)
	id, err := reg.Register(context.Background(), writeSource(t, fs, "a.png", 1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(task models.ID) {
			defer wg.Done()
			if assert.NoError(t, reg.MarkUsed(id, task)) {
				assert.NoError(t, reg.ReleaseUsed(id, task))
			}
		}(models.ID(i))
	}
	wg.Wait()

	img, err := reg.Describe(id)
	require.NoError(t, err)
	assert.Empty(t, img.UsedInTasks)
}
