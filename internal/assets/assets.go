package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Dir is the directory holding produced artifacts, named {requester}_{seq}.{ext}.
type Dir struct {
	Root string

	mu sync.Mutex
}

func New(root string) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("assets root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create assets dir: %w", err)
	}
	return &Dir{Root: root}, nil
}

// Write stores data under the next free sequence number for the requester and
// returns the file path. Existing files are never overwritten.
func (d *Dir) Write(requesterID int64, ext string, data []byte) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ext = strings.TrimPrefix(ext, ".")
	prefix := strconv.FormatInt(requesterID, 10) + "_"
	seq := d.countPrefix(prefix) + 1
	for attempt := 0; attempt < 1000; attempt++ {
		p := filepath.Join(d.Root, fmt.Sprintf("%s%d.%s", prefix, seq, ext))
		err := writeExclusive(p, data)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		seq++
	}
	return "", fmt.Errorf("no free artifact name for requester %d", requesterID)
}

// WriteNamed stores data at name inside the directory, replacing nothing.
// It returns fs.ErrExist if the file is already there.
func (d *Dir) WriteNamed(name string, data []byte) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	p := filepath.Join(d.Root, name)
	if err := writeExclusive(p, data); err != nil {
		return p, err
	}
	return p, nil
}

// Path returns where name would live inside the directory.
func (d *Dir) Path(name string) string { return filepath.Join(d.Root, name) }

// Exists reports whether p names a regular, non-empty file.
func Exists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular() && st.Size() > 0
}

func (d *Dir) countPrefix(prefix string) int {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			n++
		}
	}
	return n
}

func writeExclusive(p string, data []byte) error {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return fmt.Errorf("write %s: %w", p, err)
	}
	return f.Close()
}

// Sweep deletes regular files last modified before now-maxAge and returns how
// many were removed.
func (d *Dir) Sweep(now time.Time, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("max age must be > 0")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(d.Root, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}
