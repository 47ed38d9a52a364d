// Package rollback records every on-disk side effect of asset builds so that
// shutdown can return the web root to its pre-run state.
package rollback

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/assetcache/internal/observability"
)

// BackupSuffix is appended to an artifact path to name its backup.
const BackupSuffix = ".bak"

// ProcessedModTime is stamped on files transformed in place. It is only a
// hint for crash recovery; the registry itself decides what was processed.
var ProcessedModTime = time.Unix(0, 0)

// Entry is one artifact path written during the process lifetime.
type Entry struct {
	Path      string
	Backup    string    // empty when the path did not exist before the first write
	ModTime   time.Time // modification time of the original, restored with the backup
	HasBackup bool
}

// Registry tracks written artifacts and created directories.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
	dirs    []string
	dirSet  map[string]struct{}
	metrics *observability.Metrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics *observability.Metrics) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		dirSet:  make(map[string]struct{}),
		metrics: metrics,
	}
}

// Touch registers path before its first write. If a file already exists
// there it is copied to path+BackupSuffix, keeping its mode and modification
// time. Later calls for the same path are no-ops and return the first entry.
//
// A leftover backup next to a file carrying ProcessedModTime is adopted
// rather than overwritten: the file is the output of an earlier run that
// never rolled back, and the backup holds the real original.
func (r *Registry) Touch(path string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[path]; ok {
		return *e, nil
	}

	e := &Entry{Path: path}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Entry{}, fmt.Errorf("stat %s: %w", path, err)
	case info.IsDir():
		return Entry{}, fmt.Errorf("%s is a directory", path)
	default:
		backup := path + BackupSuffix
		if bi, berr := os.Stat(backup); berr == nil && !bi.IsDir() && info.ModTime().Equal(ProcessedModTime) {
			log.Warn().Str("path", path).Str("backup", backup).Msg("Adopting backup left by an earlier run")
			e.Backup, e.ModTime, e.HasBackup = backup, bi.ModTime(), true
			break
		}
		if err := copyFile(path, backup, info); err != nil {
			return Entry{}, fmt.Errorf("back up %s: %w", path, err)
		}
		e.Backup, e.ModTime, e.HasBackup = backup, info.ModTime(), true
		log.Debug().Str("path", path).Str("backup", backup).Msg("Backed up original file")
	}

	r.entries[path] = e
	r.order = append(r.order, path)
	return *e, nil
}

// MkdirAll creates dir and any missing parents, remembering which ones it
// created so rollback can remove them again when empty.
func (r *Registry) MkdirAll(dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var missing []string
	for d := filepath.Clean(dir); ; {
		if _, err := os.Stat(d); err == nil {
			break
		}
		missing = append(missing, d)
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	if len(missing) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if _, ok := r.dirSet[missing[i]]; ok {
			continue
		}
		r.dirSet[missing[i]] = struct{}{}
		r.dirs = append(r.dirs, missing[i])
	}
	return nil
}

// Lookup returns the entry for path, if any.
func (r *Registry) Lookup(path string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns every entry in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, *r.entries[p])
	}
	return out
}

// Rollback restores every backed up file and deletes every file that did not
// exist before, newest first, then removes the directories the registry
// created if they are empty. It keeps going after failures and returns them
// joined. The registry is empty afterwards, so a second call does nothing.
func (r *Registry) Rollback() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		e := r.entries[r.order[i]]
		if err := r.restore(e); err != nil {
			log.Error().Err(err).Str("path", e.Path).Msg("Rollback failed, continuing")
			r.metrics.RecordRollback("failed")
			errs = append(errs, err)
		}
	}

	for i := len(r.dirs) - 1; i >= 0; i-- {
		d := r.dirs[i]
		if err := os.Remove(d); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Debug().Err(err).Str("dir", d).Msg("Leaving created directory in place")
			continue
		}
		log.Debug().Str("dir", d).Msg("Removed created directory")
	}

	r.entries = make(map[string]*Entry)
	r.order = nil
	r.dirs = nil
	r.dirSet = make(map[string]struct{})
	return errors.Join(errs...)
}

func (r *Registry) restore(e *Entry) error {
	if !e.HasBackup {
		if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", e.Path, err)
		}
		log.Debug().Str("path", e.Path).Msg("Deleted generated file")
		r.metrics.RecordRollback("deleted")
		return nil
	}

	if err := os.Rename(e.Backup, e.Path); err != nil {
		return fmt.Errorf("restore %s from %s: %w", e.Path, e.Backup, err)
	}
	if err := os.Chtimes(e.Path, e.ModTime, e.ModTime); err != nil {
		return fmt.Errorf("restore modification time of %s: %w", e.Path, err)
	}
	log.Debug().Str("path", e.Path).Msg("Restored original file")
	r.metrics.RecordRollback("restored")
	return nil
}

func copyFile(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
