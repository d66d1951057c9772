package routing

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/DragonSecurity/gwbridge/pkg/util"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a Store when its file changes on disk. The parent directory
// is watched so editors that replace the file are noticed too.
type Watcher struct {
	store    *Store
	log      *util.Logger
	debounce time.Duration
}

func NewWatcher(store *Store, log *util.Logger) *Watcher {
	return &Watcher{store: store, log: log, debounce: defaultDebounce}
}

func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	target, err := filepath.Abs(w.store.Path())
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	w.log.Infof("watching %s for changes", target)

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Errorf("watch error: %v", err)
		case <-fire:
			_ = w.store.Reload()
		}
	}
}
