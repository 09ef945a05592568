package config

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports writes to the config file. It watches the parent
// directory so editors that replace the file by rename are still seen.
type Watcher struct {
	watcher   *fsnotify.Watcher
	target    string
	callbacks []func(string)
	mu        sync.RWMutex
	done      chan struct{}
	stopped   chan struct{}
	started   atomic.Bool
	stopOnce  sync.Once
	logger    *zap.Logger
}

func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{
		watcher: fw,
		target:  filepath.Clean(abs),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}, nil
}

func (w *Watcher) OnChange(callback func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start runs the event loop in a goroutine until Stop is called.
func (w *Watcher) Start() {
	if w.started.CompareAndSwap(false, true) {
		go w.loop()
	}
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debug("config file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
				w.notify(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// Stop ends the event loop and waits for it to return. It is safe to call
// Stop without Start, and more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		if w.started.Load() {
			<-w.stopped
		}
	})
	return err
}

func (w *Watcher) notify(path string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, cb := range w.callbacks {
		cb(path)
	}
}
