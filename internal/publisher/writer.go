package publisher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// ErrDirectorySetup is returned when the output directory cannot be created.
var ErrDirectorySetup = errors.New("output directory setup failed")

// Writer publishes a complete file at path.
type Writer interface {
	WriteFile(path string, data []byte) error
}

// AtomicWriter writes to a temporary file next to the target, syncs it and
// renames it over the target, so readers only ever see a whole playlist.
type AtomicWriter struct {
	// Perm is the mode of the published file; 0644 when zero
	Perm os.FileMode
}

// WriteFile atomically replaces path with data. The temporary file is removed
// on every failure path.
func (w AtomicWriter) WriteFile(path string, data []byte) error {
	perm := w.Perm
	if perm == 0 {
		perm = 0644
	}

	pf, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithPermissions(perm),
	)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	// Syncs, closes and renames onto path.
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	return nil
}

// PrepareOutput creates the directory holding path. It runs once before the
// publish loop; the directory is assumed to stay in place afterwards.
func PrepareOutput(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDirectorySetup, dir, err)
	}
	return nil
}
