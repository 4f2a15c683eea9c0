// Package fswatch watches the supported-operations directory tree for
// capability marker changes and classifies the raw filesystem events the
// Mapper Actor needs to react to.
package fswatch

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Kind enumerates the filesystem event shapes the Mapper Actor handles.
type Kind int

const (
	DirectoryCreated Kind = iota
	FileCreated
	FileDeleted
	Modified
	DirectoryDeleted
)

// Event is a classified filesystem change under the watched root.
type Event struct {
	Kind Kind
	Path string
}

// Watcher is the contract the Mapper Actor depends on.
type Watcher interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// FsNotifyWatcher is the production Watcher, built on fsnotify. It watches
// the operations root non-recursively plus every first-level child
// directory that already exists or is created while running — configuration
// operations are explicitly unsupported below one level of child nesting,
// so the watcher never needs to recurse deeper.
type FsNotifyWatcher struct {
	root   string
	inner  *fsnotify.Watcher
	events chan Event
	errors chan error
	done   chan struct{}
}

// New starts watching root (the operations directory) and any first-level
// subdirectories already present under it.
func New(root string) (*FsNotifyWatcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filesystem watcher")
	}
	if err := inner.Add(root); err != nil {
		inner.Close()
		return nil, errors.Wrapf(err, "failed to watch operations directory %s", root)
	}
	if entries, err := os.ReadDir(root); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = inner.Add(filepath.Join(root, entry.Name()))
			}
		}
	}

	w := &FsNotifyWatcher{
		root:   root,
		inner:  inner,
		events: make(chan Event, 16),
		errors: make(chan error, 16),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *FsNotifyWatcher) run() {
	for {
		select {
		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}
			w.dispatch(ev)
		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			w.errors <- err
		case <-w.done:
			return
		}
	}
}

func (w *FsNotifyWatcher) dispatch(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		if isDir(ev.Name) {
			// A newly created first-level child directory needs its own
			// watch so later marker file changes inside it are seen.
			_ = w.inner.Add(ev.Name)
			w.events <- Event{Kind: DirectoryCreated, Path: ev.Name}
			return
		}
		w.events <- Event{Kind: FileCreated, Path: ev.Name}
	case ev.Op&fsnotify.Remove != 0:
		if filepath.Dir(ev.Name) == w.root {
			// Can't stat a removed path to tell file from directory; a
			// removed first-level entry under the root is always a child
			// directory disappearing, since marker files live one level
			// deeper under it.
			w.events <- Event{Kind: DirectoryDeleted, Path: ev.Name}
			return
		}
		w.events <- Event{Kind: FileDeleted, Path: ev.Name}
	case ev.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		w.events <- Event{Kind: Modified, Path: ev.Name}
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Events returns the classified event stream.
func (w *FsNotifyWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the watcher's error stream.
func (w *FsNotifyWatcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher.
func (w *FsNotifyWatcher) Close() error {
	close(w.done)
	return w.inner.Close()
}

// OperationsUpdate is the result of classifying a non-directory-creation
// event against the operations directory layout: which scope (main device,
// or a specific child's external id) saw its capability markers change.
type OperationsUpdate struct {
	ChildExternalID string // empty for the main device
	IsMainDevice    bool
}

// ClassifyOperationsUpdate decides whether ev represents a change to the
// supported-operations markers worth re-announcing to the cloud, mirroring
// the inotify-event classifier's role of folding raw filesystem churn into
// a single "operations updated" signal.
func ClassifyOperationsUpdate(opsDir string, ev Event) (OperationsUpdate, bool) {
	rel, err := filepath.Rel(opsDir, ev.Path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return OperationsUpdate{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")

	switch ev.Kind {
	case FileCreated, FileDeleted, Modified:
		switch len(parts) {
		case 1:
			return OperationsUpdate{IsMainDevice: true}, true
		case 2:
			return OperationsUpdate{ChildExternalID: parts[0]}, true
		default:
			return OperationsUpdate{}, false
		}
	case DirectoryDeleted:
		if len(parts) == 1 {
			return OperationsUpdate{ChildExternalID: parts[0]}, true
		}
		return OperationsUpdate{}, false
	default:
		return OperationsUpdate{}, false
	}
}
