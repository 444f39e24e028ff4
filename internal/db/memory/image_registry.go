package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/not-nullexception/image-orchestrator/internal/apperrors"
	"github.com/not-nullexception/image-orchestrator/internal/db"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
	"github.com/not-nullexception/image-orchestrator/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

type imageRecord struct {
	image models.Image
	used  map[models.ID]struct{}
}

func (r *imageRecord) snapshot() *models.Image {
	img := r.image.Clone()
	img.UsedInTasks = make([]models.ID, 0, len(r.used))
	for id := range r.used {
		img.UsedInTasks = append(img.UsedInTasks, id)
	}
	sort.Slice(img.UsedInTasks, func(i, j int) bool { return img.UsedInTasks[i] < img.UsedInTasks[j] })
	return img
}

// ImageRegistry keeps image records in memory. Every operation runs under a
// single mutex; file removal happens while it is held so a record cannot
// disappear under a concurrent completion.
type ImageRegistry struct {
	mu       sync.Mutex
	images   map[models.ID]*imageRecord
	order    []models.ID
	paths    map[string]models.ID // managed or reserved destination paths
	nextID   models.ID
	fs       afero.Fs
	clock    clockwork.Clock
	inputDir string
	logger   zerolog.Logger
}

var _ db.ImageRepository = (*ImageRegistry)(nil)

func NewImageRegistry(fs afero.Fs, clock clockwork.Clock, inputDir string) *ImageRegistry {
	return &ImageRegistry{
		images:   make(map[models.ID]*imageRecord),
		paths:    make(map[string]models.ID),
		fs:       fs,
		clock:    clock,
		inputDir: inputDir,
		logger:   logger.GetLogger("image-registry"),
	}
}

// Register copies the file at path into the input directory and records it
// under a fresh id.
func (r *ImageRegistry) Register(ctx context.Context, path string) (models.ID, error) {
	info, err := r.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, apperrors.NotFound("image path %s does not exist", path)
		}
		return 0, apperrors.IO(err, "error reading %s", path)
	}
	if info.IsDir() {
		return 0, apperrors.Validation("%s is a directory", path)
	}

	id, dest, copyNeeded := r.reserve(path)

	if copyNeeded {
		if err := r.copyFile(path, dest); err != nil {
			r.mu.Lock()
			delete(r.paths, dest)
			r.mu.Unlock()
			return 0, apperrors.IO(err, "error copying image %s", path)
		}
	}

	r.mu.Lock()
	r.insertLocked(id, dest, info.Size())
	count := len(r.images)
	r.mu.Unlock()

	metrics.UpdateManagedImages(count)

	logger.FromContext(ctx).Info().
		Str("image_id", id.String()).
		Str("source", path).
		Str("path", dest).
		Int64("size", info.Size()).
		Msg("Image registered")

	return id, nil
}

// reserve allocates the next id and a destination path inside the input
// directory. A basename already taken by another file is prefixed with the id.
func (r *ImageRegistry) reserve(src string) (models.ID, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID

	dest := filepath.Join(r.inputDir, filepath.Base(src))
	if filepath.Clean(src) == dest {
		if _, managed := r.paths[dest]; !managed {
			r.paths[dest] = id
			return id, dest, false
		}
	}
	if _, taken := r.paths[dest]; taken || r.exists(dest) {
		dest = filepath.Join(r.inputDir, fmt.Sprintf("%d_%s", id, filepath.Base(src)))
	}
	r.paths[dest] = id
	return id, dest, true
}

func (r *ImageRegistry) exists(path string) bool {
	ok, err := afero.Exists(r.fs, path)
	return err == nil && ok
}

func (r *ImageRegistry) copyFile(src, dest string) error {
	in, err := r.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return afero.WriteReader(r.fs, dest, in)
}

func (r *ImageRegistry) insertLocked(id models.ID, path string, size int64) {
	r.images[id] = &imageRecord{
		image: models.Image{
			ID:             id,
			Path:           path,
			FiltersApplied: []string{},
			SizeBefore:     &size,
			RegisteredAt:   r.clock.Now(),
		},
		used: make(map[models.ID]struct{}),
	}
	r.order = append(r.order, id)
	r.paths[path] = id
}

// Scan registers files already present in dirs without copying them.
// Files are taken in lexical order; already managed paths are skipped.
func (r *ImageRegistry) Scan(ctx context.Context, dirs ...string) (int, error) {
	registered := 0
	for _, dir := range dirs {
		entries, err := afero.ReadDir(r.fs, dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return registered, apperrors.IO(err, "error scanning %s", dir)
		}

		for _, entry := range entries {
			if !entry.Mode().IsRegular() {
				continue
			}
			path := filepath.Join(dir, entry.Name())

			r.mu.Lock()
			if _, managed := r.paths[path]; !managed {
				r.nextID++
				r.insertLocked(r.nextID, path, entry.Size())
				registered++
			}
			r.mu.Unlock()
		}
	}

	metrics.UpdateManagedImages(r.Count())

	logger.FromContext(ctx).Info().
		Strs("dirs", dirs).
		Int("registered", registered).
		Msg("Managed directories scanned")

	return registered, nil
}

func (r *ImageRegistry) Describe(id models.ID) (*models.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.images[id]
	if !ok {
		return nil, apperrors.NotFound("image %d not found", id)
	}
	return rec.snapshot(), nil
}

// List returns (id, path) pairs in insertion order
func (r *ImageRegistry) List() []models.ImageSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]models.ImageSummary, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, models.ImageSummary{ID: id, Path: r.images[id].image.Path})
	}
	return list
}

func (r *ImageRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.images)
}

func (r *ImageRegistry) CanAcceptTask(id models.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.images[id]
	return ok && !rec.image.DeleteFlag
}

// MarkUsed records that taskID depends on the image. The acceptance check
// and the mark happen atomically.
func (r *ImageRegistry) MarkUsed(id, taskID models.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.images[id]
	if !ok {
		return apperrors.NotFound("image %d not found", id)
	}
	if rec.image.DeleteFlag {
		return apperrors.Conflict("image %d is marked for deletion", id)
	}

	rec.used[taskID] = struct{}{}
	last := taskID
	rec.image.LastTaskID = &last

	r.logger.Debug().
		Str("image_id", id.String()).
		Str("task_id", taskID.String()).
		Int("usages", len(rec.used)).
		Msg("Image marked as used")
	return nil
}

// ReleaseUsed removes the usage taskID holds on the image.
func (r *ImageRegistry) ReleaseUsed(id, taskID models.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.images[id]
	if !ok {
		return apperrors.NotFound("image %d not found", id)
	}
	if _, held := rec.used[taskID]; !held {
		return apperrors.Conflict("task %d holds no usage on image %d", taskID, id)
	}
	delete(rec.used, taskID)

	r.logger.Debug().
		Str("image_id", id.String()).
		Str("task_id", taskID.String()).
		Int("usages", len(rec.used)).
		Msg("Image usage released")
	return nil
}

// MarkForDeletion sets the sticky delete flag and returns the number of
// tasks still using the image.
func (r *ImageRegistry) MarkForDeletion(id models.ID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.images[id]
	if !ok {
		return 0, apperrors.NotFound("image %d not found", id)
	}
	rec.image.DeleteFlag = true
	return len(rec.used), nil
}

// TryDelete removes the file and the record when no task uses the image.
func (r *ImageRegistry) TryDelete(id models.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.images[id]
	if !ok {
		return false, apperrors.NotFound("image %d not found", id)
	}
	return r.deleteLocked(rec)
}

// TryDeferredDelete deletes the image only if it is flagged and unused.
// A record that is already gone is not an error.
func (r *ImageRegistry) TryDeferredDelete(id models.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.images[id]
	if !ok || !rec.image.DeleteFlag {
		return false, nil
	}
	return r.deleteLocked(rec)
}

func (r *ImageRegistry) deleteLocked(rec *imageRecord) (bool, error) {
	if len(rec.used) > 0 {
		return false, nil
	}

	id := rec.image.ID
	path := rec.image.Path
	if err := r.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, apperrors.IO(err, "error removing %s", path)
	}

	delete(r.images, id)
	delete(r.paths, path)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	metrics.UpdateManagedImages(len(r.images))

	r.logger.Info().
		Str("image_id", id.String()).
		Str("path", path).
		Msg("Image deleted")
	return true, nil
}

// RecordCompletion appends processing metadata from a finished task.
func (r *ImageRegistry) RecordCompletion(id models.ID, filters []string, processingTime time.Duration, sizeAfter int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.images[id]
	if !ok {
		return apperrors.NotFound("image %d not found", id)
	}

	rec.image.FiltersApplied = append(rec.image.FiltersApplied, filters...)
	rec.image.ProcessingTime = &processingTime
	rec.image.SizeAfter = &sizeAfter
	return nil
}
