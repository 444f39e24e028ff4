package dispatcher

import (
	"fmt"
	"strings"

	"github.com/not-nullexception/image-orchestrator/internal/db/models"
)

// FormatImages renders one "id: path" line per image.
func FormatImages(images []models.ImageSummary) string {
	if len(images) == 0 {
		return "No images registered"
	}
	lines := make([]string, len(images))
	for i, img := range images {
		lines[i] = fmt.Sprintf("%s: %s", img.ID, img.Path)
	}
	return strings.Join(lines, "\n")
}

// FormatImage renders every field of an image record.
func FormatImage(img *models.Image) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Image %s\n", img.ID)
	fmt.Fprintf(&b, "  path: %s\n", img.Path)
	fmt.Fprintf(&b, "  last task: %s\n", optional(img.LastTaskID))
	fmt.Fprintf(&b, "  used in tasks: %v\n", img.UsedInTasks)
	fmt.Fprintf(&b, "  delete flag: %t\n", img.DeleteFlag)
	fmt.Fprintf(&b, "  filters applied: %v\n", img.FiltersApplied)
	fmt.Fprintf(&b, "  processing time: %s\n", optional(img.ProcessingTime))
	fmt.Fprintf(&b, "  size before: %s\n", optional(img.SizeBefore))
	fmt.Fprintf(&b, "  size after: %s", optional(img.SizeAfter))
	return b.String()
}

// FormatTasks renders one "id: image <id> <status>" line per task.
func FormatTasks(tasks []*models.Task) string {
	if len(tasks) == 0 {
		return "No tasks"
	}
	lines := make([]string, len(tasks))
	for i, task := range tasks {
		line := fmt.Sprintf("%s: image %s %s", task.ID, task.ImageID, task.Status)
		if task.Error != "" {
			line += " (" + task.Error + ")"
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func optional[T any](v *T) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}
