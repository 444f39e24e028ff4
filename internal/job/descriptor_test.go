package job

import (
	"testing"

	"github.com/not-nullexception/image-orchestrator/internal/apperrors"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	d, err := Parse([]byte(`{"image_id": "1", "transformations": ["grayscale", "blur", "brightness"], "output_file": "output/a.png"}`))
	require.NoError(t, err)

	assert.Equal(t, models.ID(1), d.ImageID)
	assert.Equal(t, []models.Transformation{
		{Name: models.TransformGrayscale},
		{Name: models.TransformBlur, Level: DefaultBlurLevel},
		{Name: models.TransformBrightness, Level: DefaultBrightnessLevel},
	}, d.Steps())
}

func TestParse_Levels(t *testing.T) {
	d, err := Parse([]byte(`{"image_id": 2, "transformations": ["Blur", "brightness"], "output_file": "o.png", "blur_level": 2.5, "brightness_level": 0}`))
	require.NoError(t, err)

	assert.Equal(t, models.ID(2), d.ImageID)
	assert.Equal(t, []models.Transformation{
		{Name: models.TransformBlur, Level: 2.5},
		{Name: models.TransformBrightness, Level: 0},
	}, d.Steps())
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"image_id": `},
		{"unknown field", `{"image_id": 1, "transformations": ["blur"], "output_file": "o.png", "quality": 80}`},
		{"unknown transform", `{"image_id": 1, "transformations": ["sepia"], "output_file": "o.png"}`},
		{"missing image", `{"transformations": ["blur"], "output_file": "o.png"}`},
		{"zero image", `{"image_id": 0, "transformations": ["blur"], "output_file": "o.png"}`},
		{"bad image", `{"image_id": "abc", "transformations": ["blur"], "output_file": "o.png"}`},
		{"empty transforms", `{"image_id": 1, "transformations": [], "output_file": "o.png"}`},
		{"missing output", `{"image_id": 1, "transformations": ["blur"]}`},
		{"zero blur", `{"image_id": 1, "transformations": ["blur"], "output_file": "o.png", "blur_level": 0}`},
		{"negative brightness", `{"image_id": 1, "transformations": ["brightness"], "output_file": "o.png", "brightness_level": -1}`},
		{"trailing data", `{"image_id": 1, "transformations": ["blur"], "output_file": "o.png"} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "jobs/a.json", []byte(`{"image_id": "3", "transformations": ["grayscale"], "output_file": "output/a.png"}`), 0o644))

	d, err := Load(fs, "jobs/a.json")
	require.NoError(t, err)
	assert.Equal(t, models.ID(3), d.ImageID)
	assert.Equal(t, "output/a.png", d.OutputFile)

	_, err = Load(fs, "jobs/missing.json")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}
