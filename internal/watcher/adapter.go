package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"scriptor/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Kind is the abstract notification reported for a watched script.
type Kind int

const (
	Changed Kind = iota + 1
	Renamed
)

func (kind Kind) String() string {
	switch kind {
	case Changed:
		return "changed"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Notification is emitted by an adapter handle. WatchID is the identifier the
// handle was opened with; receivers resolve it to their own bookkeeping.
type Notification struct {
	WatchID uint64
	Kind    Kind
	Path    string
	NewPath string
}

// Opener attaches a watch to one file and reports notifications to sink.
type Opener interface {
	Open(path string, id uint64, sink func(Notification)) (Handle, error)
}

// Adapter opens per-file watches on top of a directory Watch.
//
// It watches the parent directory so a rename inside that directory can be
// resolved to the new name: the moved file is recognised by identity
// (os.SameFile), independent of the order in which the Rename and Create
// events arrive. A file moved out of its directory cannot be followed and is
// reported as Changed.
type Adapter struct {
	watch  Watch
	logger *logging.Logger
}

func NewAdapter(watch Watch, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Adapter{watch: watch, logger: logger.Component("watcher")}
}

func (adapter *Adapter) Open(path string, id uint64, sink func(Notification)) (Handle, error) {
	if adapter == nil || adapter.watch == nil {
		return nil, errors.New("adapter has no watch")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("watch %s: is a directory", path)
	}

	file := &fileWatch{
		id:     id,
		sink:   sink,
		logger: adapter.logger,
		path:   path,
		info:   info,
	}
	registration, err := adapter.watch.Watch(filepath.Dir(path), file.handle)
	if err != nil {
		return nil, err
	}
	file.mu.Lock()
	file.registration = registration
	file.mu.Unlock()
	return file, nil
}

type fileWatch struct {
	id     uint64
	sink   func(Notification)
	logger *logging.Logger

	mu           sync.Mutex
	path         string
	info         os.FileInfo
	missing      bool
	closed       bool
	registration Handle

	// pendingCreate is the name whose Create event is still expected after
	// a rename was resolved from the directory listing.
	pendingCreate string

	// emitMu serializes delivery and lets Close wait for an in-flight sink call.
	emitMu sync.Mutex
}

// Close stops notifications. It must not be called from inside the sink of
// the same handle.
func (file *fileWatch) Close() error {
	file.mu.Lock()
	if file.closed {
		file.mu.Unlock()
		return nil
	}
	file.closed = true
	registration := file.registration
	file.registration = nil
	file.mu.Unlock()

	file.emitMu.Lock()
	file.emitMu.Unlock()

	if registration == nil {
		return nil
	}
	return registration.Close()
}

func (file *fileWatch) handle(event Event) {
	file.mu.Lock()
	if file.closed {
		file.mu.Unlock()
		return
	}
	var notes []Notification
	switch {
	case event.Path == file.path:
		notes = file.trackedEventLocked(event)
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename):
		notes = file.siblingCreatedLocked(event.Path)
	}
	file.mu.Unlock()

	file.emit(notes)
}

func (file *fileWatch) trackedEventLocked(event Event) []Notification {
	current, err := os.Stat(file.path)
	if err == nil && event.Op == fsnotify.Create && file.pendingCreate == file.path {
		file.pendingCreate = ""
		if os.SameFile(file.info, current) {
			return nil
		}
	}
	if err == nil {
		replaced := !os.SameFile(file.info, current)
		file.info = current
		wasMissing := file.missing
		file.missing = false
		if wasMissing || replaced || event.Op&^fsnotify.Chmod != 0 {
			return []Notification{{Kind: Changed, Path: file.path}}
		}
		return nil
	}
	if file.missing {
		return nil
	}

	if moved := file.findMovedLocked(); moved != "" {
		file.pendingCreate = moved
		return file.relocateLocked(moved)
	}
	file.missing = true
	file.logger.Debug("watched script disappeared", map[string]string{
		"path": file.path,
	})
	return []Notification{{Kind: Changed, Path: file.path}}
}

// siblingCreatedLocked handles the case where the Create for the new name is
// delivered before the Rename of the tracked name.
func (file *fileWatch) siblingCreatedLocked(candidate string) []Notification {
	if file.missing {
		return nil
	}
	if _, err := os.Stat(file.path); err == nil {
		return nil
	}
	info, err := os.Stat(candidate)
	if err != nil || !os.SameFile(file.info, info) {
		return nil
	}
	return file.relocateLocked(candidate)
}

func (file *fileWatch) findMovedLocked() string {
	dir := filepath.Dir(file.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, entry.Name())
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if os.SameFile(file.info, info) {
			return candidate
		}
	}
	return ""
}

func (file *fileWatch) relocateLocked(newPath string) []Notification {
	oldPath := file.path
	file.path = newPath
	if info, err := os.Stat(newPath); err == nil {
		file.info = info
	}
	file.logger.Debug("watched script renamed", map[string]string{
		"from": oldPath,
		"to":   newPath,
	})
	return []Notification{{Kind: Renamed, Path: oldPath, NewPath: newPath}}
}

func (file *fileWatch) emit(notes []Notification) {
	if len(notes) == 0 {
		return
	}
	file.emitMu.Lock()
	defer file.emitMu.Unlock()

	file.mu.Lock()
	closed := file.closed
	file.mu.Unlock()
	if closed {
		return
	}
	for _, note := range notes {
		note.WatchID = file.id
		file.sink(note)
	}
}
