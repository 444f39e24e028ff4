package image

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

type Processor struct {
	fs     afero.Fs
	logger zerolog.Logger
}

type ProcessingResult struct {
	OutputPath string
	SizeAfter  int64
	Width      int
	Height     int
}

func New(fs afero.Fs) *Processor {
	return &Processor{
		fs:     fs,
		logger: logger.GetLogger("image-processor"),
	}
}

// Process loads src, applies the transformations in order and writes the
// result to dst, creating dst's directory if needed.
func (p *Processor) Process(ctx context.Context, src, dst string, transformations []models.Transformation) (*ProcessingResult, error) {
	reqLogger := logger.FromContext(ctx)

	img, err := p.Load(src)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	reqLogger.Debug().
		Str("path", src).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Strs("transformations", models.Names(transformations)).
		Msg("Image loaded")

	out, err := Apply(img, transformations)
	if err != nil {
		return nil, err
	}

	size, err := p.Save(out, dst)
	if err != nil {
		return nil, err
	}

	reqLogger.Debug().
		Str("output", dst).
		Int64("size_after", size).
		Msg("Processed image written")

	return &ProcessingResult{
		OutputPath: dst,
		SizeAfter:  size,
		Width:      out.Bounds().Dx(),
		Height:     out.Bounds().Dy(),
	}, nil
}

// Load decodes the image stored at path
func (p *Processor) Load(path string) (image.Image, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening image: %w", err)
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}
	return img, nil
}

// Save encodes img in the format implied by path's extension and returns
// the size of the written file.
func (p *Processor) Save(img image.Image, path string) (int64, error) {
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return 0, fmt.Errorf("unsupported output format for %s: %w", path, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := p.fs.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("error creating output directory: %w", err)
		}
	}

	f, err := p.fs.Create(path)
	if err != nil {
		return 0, fmt.Errorf("error creating output file: %w", err)
	}

	if err := imaging.Encode(f, img, format); err != nil {
		f.Close()
		return 0, fmt.Errorf("error encoding processed image: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("error closing output file: %w", err)
	}

	info, err := p.fs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("error reading output size: %w", err)
	}
	return info.Size(), nil
}
