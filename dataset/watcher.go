package dataset

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher invalidates the loaded dataset when its CSV is rewritten, so a
// refreshed export is picked up on the next load instead of serving stale
// statistics.
type Watcher struct {
	fw  *fsnotify.Watcher
	mgr *Manager
	log *zap.Logger
}

func NewWatcher(mgr *Manager, log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(mgr.dataDir); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{fw: fw, mgr: mgr, log: log}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			ds, err := w.mgr.Current()
			if err != nil {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(ds.Path) {
				continue
			}
			w.log.Info("dataset file changed, invalidating", zap.String("path", event.Name))
			w.mgr.Invalidate()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("dataset watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) Close() error {
	return w.fw.Close()
}
