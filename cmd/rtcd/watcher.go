package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	openrtm "github.com/n-ando/OpenRTM-aist-sub001"
)

// rateWatcher reapplies the rates section of the manager file whenever the
// file changes. It watches the parent directory so editors that replace the
// file by rename are seen too.
type rateWatcher struct {
	path     string
	manager  *openrtm.Manager
	logger   *slog.Logger
	debounce time.Duration
	started  atomic.Bool
	applied  atomic.Int64
}

func newRateWatcher(path string, m *openrtm.Manager, logger *slog.Logger) *rateWatcher {
	return &rateWatcher{path: filepath.Clean(path), manager: m, logger: logger, debounce: 100 * time.Millisecond}
}

func (w *rateWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.started.Store(true)
	w.logger.Info("watching manager file", "path", w.path)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("manager file watch error", "error", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *rateWatcher) reload() {
	mf, err := loadManagerFile(w.path)
	if err != nil {
		w.logger.Warn("manager file reload failed", "error", err)
		return
	}
	if err := applyRates(w.manager, mf.Rates); err != nil {
		w.logger.Warn("rate change failed", "error", err)
		return
	}
	w.applied.Add(1)
	w.logger.Info("manager file rates applied", "contexts", len(mf.Rates))
}

func (w *rateWatcher) IsReady(context.Context) error {
	if w.started.Load() {
		return nil
	}
	return errors.New("watcher not started")
}
