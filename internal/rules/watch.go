package rules

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the store when another process rewrites the rules file.
type Watcher struct {
	store   *Store
	file    *FileStorage
	log     *logrus.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher watches the directory holding file's rules document. The
// directory is watched rather than the file so atomic renames are seen.
func NewWatcher(store *Store, file *FileStorage, log *logrus.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(file.Path())); err != nil {
		w.Close()
		return nil, err
	}
	return &Watcher{store: store, file: file, log: log, watcher: w}, nil
}

// Start processes filesystem events until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	w.log.WithField("path", w.file.Path()).Info("Watching rules file")
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Rules watcher stopping")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Error("Rules watcher error")
		}
	}
}

func (w *Watcher) handleFsEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.file.Path() {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	// Our own saves land here too; only reload when the bytes differ from
	// what the store last read or wrote.
	changed, err := w.file.Changed()
	if err != nil {
		w.log.WithError(err).Debug("Rules file not readable after event")
		return
	}
	if !changed {
		return
	}
	w.log.WithField("fsnotify_op", event.Op.String()).Info("Rules file changed on disk")
	if err := w.store.Reload(ctx); err != nil {
		w.log.WithError(err).Warn("Rules file edit ignored")
	}
}
