package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/logging"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Watcher reloads configuration when one of its files changes.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	onChange  func(*types.Config)

	mu      sync.Mutex
	files   map[string]bool
	timer   *time.Timer
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewWatcher watches the directories holding files and calls onChange with
// the reloaded configuration of directory after any of them changes.
// Directories are watched rather than files so atomic renames are seen.
func NewWatcher(directory string, files []string, onChange func(*types.Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watcher := &Watcher{
		watcher:   w,
		directory: directory,
		onChange:  onChange,
		files:     make(map[string]bool),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		watcher.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, err
		}
	}
	return watcher, nil
}

// Start begins watching.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	log := logging.Component("config")

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || !w.watched(abs) {
				continue
			}
			log.Debug().Str("file", abs).Str("op", ev.Op.String()).Msg("config file changed")
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) watched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[path]
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	log := logging.Component("config")
	cfg, err := Load(w.directory)
	if err != nil {
		// Keep the previous configuration until the file is fixed.
		log.Warn().Err(err).Msg("config reload failed")
		return
	}
	log.Info().Str("model", cfg.Model).Msg("config reloaded")
	w.onChange(cfg)
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}
