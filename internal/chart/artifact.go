package chart

import (
	"fmt"
	"os"
	"time"
)

// StorageForm tells whether an artifact holds a decoded image or the raw result page.
type StorageForm string

const (
	FormImage   StorageForm = "image_bytes"
	FormRawPage StorageForm = "raw_page_bytes"
)

// Artifact is the produced chart. It is written once and never mutated.
type Artifact struct {
	ID          int64
	Fingerprint Fingerprint
	Form        StorageForm
	Path        string
	MediaType   string
	CreatedAt   time.Time
}

// IsImage reports whether the artifact can be delivered as-is.
func (a Artifact) IsImage() bool { return a.Form == FormImage }

// Bytes reads the artifact content from disk.
func (a Artifact) Bytes() ([]byte, error) {
	if a.Path == "" {
		return nil, fmt.Errorf("artifact %d: no path", a.ID)
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}
