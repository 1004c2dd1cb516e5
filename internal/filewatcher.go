package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher calls a callback whenever a single file is created, written, replaced or removed.
// The containing directory is watched rather than the file itself so that atomic replacements
// (write temp file, rename over the target) are seen.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	filename string
	callback func()
	settle   time.Duration
	closeC   chan struct{}
	started  atomic.Bool
}

// NewFileWatcher creates a new file watcher for the given path and callback function.
func NewFileWatcher(path string, callback func()) *FileWatcher {
	return &FileWatcher{
		dir:      filepath.Dir(path),
		filename: filepath.Base(path),
		callback: callback,
		settle:   100 * time.Millisecond,
	}
}

func (fw *FileWatcher) Start() error {
	if !fw.started.CompareAndSwap(false, true) {
		slog.Debug("File watcher already started", "file", fw.filename)
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fw.started.Store(false)
		return fmt.Errorf("start watcher: %w", err)
	}
	if err := watcher.Add(fw.dir); err != nil {
		watcher.Close()
		fw.started.Store(false)
		return fmt.Errorf("watch %s: %w", fw.dir, err)
	}
	fw.watcher = watcher
	fw.closeC = make(chan struct{})
	slog.Debug("Watching file", "dir", fw.dir, "file", fw.filename)
	go fw.watchLoop()
	return nil
}

func (fw *FileWatcher) Close() error {
	if !fw.started.CompareAndSwap(true, false) {
		return nil
	}
	close(fw.closeC)
	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop() {
	var (
		timer   *time.Timer
		timerMu sync.Mutex
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fw.filename || event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			// writers may touch the file several times in a row; fire once things are quiet
			timerMu.Lock()
			if timer == nil {
				timer = time.AfterFunc(fw.settle, func() {
					timerMu.Lock()
					timer = nil
					timerMu.Unlock()
					select {
					case <-fw.closeC:
					default:
						fw.callback()
					}
				})
			} else {
				timer.Reset(fw.settle)
			}
			timerMu.Unlock()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Error watching file", "file", fw.filename, "error", err)
		case <-fw.closeC:
			return
		}
	}
}
