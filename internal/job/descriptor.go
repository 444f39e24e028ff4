// Package job loads and validates the JSON job descriptors accepted by the
// process command and the tasks endpoint.
package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/not-nullexception/image-orchestrator/internal/apperrors"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/spf13/afero"
)

const (
	DefaultBlurLevel       = 1.0
	DefaultBrightnessLevel = 1.0
)

// Descriptor is one transformation request.
type Descriptor struct {
	ImageID         models.ID `json:"image_id"`
	Transformations []string  `json:"transformations"`
	OutputFile      string    `json:"output_file"`
	BlurLevel       *float64  `json:"blur_level,omitempty"`
	BrightnessLevel *float64  `json:"brightness_level,omitempty"`
}

// Load reads and parses the descriptor stored at path.
func Load(fs afero.Fs, path string) (*Descriptor, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, afero.ErrFileNotFound) {
			return nil, apperrors.Validation("job descriptor %s does not exist", path)
		}
		return nil, apperrors.IO(err, "error reading job descriptor %s", path)
	}
	return Parse(data)
}

// Parse decodes a descriptor, rejecting unknown fields, and validates it.
func Parse(data []byte) (*Descriptor, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		return nil, apperrors.Validation("malformed job descriptor: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, apperrors.Validation("malformed job descriptor: trailing data")
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks required fields, transform names and levels.
func (d *Descriptor) Validate() error {
	if d.ImageID == 0 {
		return apperrors.Validation("image_id is required")
	}
	if len(d.Transformations) == 0 {
		return apperrors.Validation("transformations must not be empty")
	}
	for _, name := range d.Transformations {
		if _, err := models.ParseTransformName(name); err != nil {
			return apperrors.Validation("%v", err)
		}
	}
	if strings.TrimSpace(d.OutputFile) == "" {
		return apperrors.Validation("output_file is required")
	}
	if d.BlurLevel != nil && *d.BlurLevel <= 0 {
		return apperrors.Validation("blur_level must be positive, got %g", *d.BlurLevel)
	}
	if d.BrightnessLevel != nil && *d.BrightnessLevel < 0 {
		return apperrors.Validation("brightness_level must not be negative, got %g", *d.BrightnessLevel)
	}
	return nil
}

// Steps expands the descriptor into the ordered pipeline the worker runs.
// Must only be called on a validated descriptor.
func (d *Descriptor) Steps() []models.Transformation {
	blur, brightness := DefaultBlurLevel, DefaultBrightnessLevel
	if d.BlurLevel != nil {
		blur = *d.BlurLevel
	}
	if d.BrightnessLevel != nil {
		brightness = *d.BrightnessLevel
	}

	steps := make([]models.Transformation, 0, len(d.Transformations))
	for _, raw := range d.Transformations {
		name, _ := models.ParseTransformName(raw)
		step := models.Transformation{Name: name}
		switch name {
		case models.TransformBlur:
			step.Level = blur
		case models.TransformBrightness:
			step.Level = brightness
		}
		steps = append(steps, step)
	}
	return steps
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("image %s: %s -> %s", d.ImageID, strings.Join(d.Transformations, ", "), d.OutputFile)
}
