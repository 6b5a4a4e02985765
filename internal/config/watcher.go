package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"kiwoomd/internal/logger"
)

// Watcher reloads the config file on change and hands the parsed
// result to the callback. Only hot-safe settings should be consumed
// from reloads (log level, realtime code list); everything else needs
// a restart.
type Watcher struct {
	path     string
	onChange func(*Config)
	fw       *fsnotify.Watcher
	stopCh   chan struct{}
}

// debounce absorbs the editor save dance (truncate + write + chmod).
const reloadDebounce = 500 * time.Millisecond

func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace the file, which would
	// otherwise drop the watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		fw:       fw,
		stopCh:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			cfg, err := Load(w.path)
			if err != nil {
				logger.Warnf("config: reload failed, keeping previous: %v", err)
				continue
			}
			logger.Infof("config: reloaded %s", w.path)
			w.onChange(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger.Warnf("config: watch error: %v", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) Close() error {
	close(w.stopCh)
	return w.fw.Close()
}
