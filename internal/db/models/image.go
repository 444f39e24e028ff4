package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID identifies an image or a task. Ids start at 1; zero means "none".
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses a decimal id. Zero is rejected.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return ID(n), nil
}

// UnmarshalJSON accepts both "3" and 3.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s", string(data))
	}
	*id = ID(n)
	return nil
}

// Image represents one managed picture file
type Image struct {
	ID             ID             `json:"id"`
	Path           string         `json:"path"`
	LastTaskID     *ID            `json:"last_task_id"`
	UsedInTasks    []ID           `json:"used_in_tasks"`
	DeleteFlag     bool           `json:"delete_flag"`
	FiltersApplied []string       `json:"filters_applied"`
	ProcessingTime *time.Duration `json:"processing_time"`
	SizeBefore     *int64         `json:"size_before"`
	SizeAfter      *int64         `json:"size_after"`
	RegisteredAt   time.Time      `json:"registered_at"`
}

// ImageSummary is one line of an image listing
type ImageSummary struct {
	ID   ID     `json:"id"`
	Path string `json:"path"`
}

// Clone returns a deep copy so callers never share slices with the registry.
func (i *Image) Clone() *Image {
	c := *i
	c.UsedInTasks = append([]ID(nil), i.UsedInTasks...)
	c.FiltersApplied = append([]string(nil), i.FiltersApplied...)
	if i.LastTaskID != nil {
		v := *i.LastTaskID
		c.LastTaskID = &v
	}
	if i.ProcessingTime != nil {
		v := *i.ProcessingTime
		c.ProcessingTime = &v
	}
	if i.SizeBefore != nil {
		v := *i.SizeBefore
		c.SizeBefore = &v
	}
	if i.SizeAfter != nil {
		v := *i.SizeAfter
		c.SizeAfter = &v
	}
	return &c
}

// InUse reports whether any task still depends on the image.
func (i *Image) InUse() bool {
	return len(i.UsedInTasks) > 0
}
