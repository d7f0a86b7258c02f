package supervisor

import (
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/apsviz/workflow-supervisor/pkg/log"
)

var pauseLog = log.WithComponent("supervisor")

// pauseWatcher tracks whether the pause sentinel file (spec §4.G step 2,
// §6 "Filesystem") currently exists. It watches the sentinel's parent
// directory with fsnotify rather than stat-polling the file directly, so
// the supervisor loop only pays the cost of an atomic load per tick; the
// watcher itself owns the one blocking read of the filesystem event
// channel.
type pauseWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	paused  atomic.Bool
}

// newPauseWatcher starts watching path's parent directory for create/
// remove events naming path, seeding the initial state from a direct
// stat so a sentinel already present at startup is observed immediately.
func newPauseWatcher(path string) (*pauseWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	pw := &pauseWatcher{path: path, watcher: fsw}
	pw.paused.Store(statExists(path))

	go pw.run()
	return pw, nil
}

// run drains fsnotify events naming the sentinel path and updates the
// cached paused flag. Every other path in the watched directory is
// ignored.
func (pw *pauseWatcher) run() {
	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(pw.path) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pw.paused.Store(true)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				pw.paused.Store(false)
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pauseLog.Warn().Err(err).Msg("pause watcher error")
		}
	}
}

// Paused reports the last observed sentinel state.
func (pw *pauseWatcher) Paused() bool {
	return pw.paused.Load()
}

// Close releases the underlying fsnotify watcher.
func (pw *pauseWatcher) Close() error {
	return pw.watcher.Close()
}
