package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/JakeFAU/restockwatch/internal/targets"
)

const reloadDebounce = 250 * time.Millisecond

// Reload re-reads the targets file. A file that fails to load leaves the
// current registry in place.
func (s *Service) Reload() error {
	reg, err := targets.Load(s.cfg.TargetsPath)
	if err != nil {
		return err
	}
	s.registry.Store(reg)
	s.logger.Info("targets reloaded", zap.String("path", s.cfg.TargetsPath), zap.Int("targets", reg.Len()))
	return nil
}

// watchTargets watches the directory holding the targets file so editor
// rename-and-replace saves are seen too.
func (s *Service) watchTargets(ctx context.Context) {
	dir := filepath.Dir(s.cfg.TargetsPath)
	file := filepath.Base(s.cfg.TargetsPath)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("targets watch init failed; hot reload disabled", zap.Error(err))
		return
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		s.logger.Warn("targets watch add failed; hot reload disabled", zap.String("dir", dir), zap.Error(err))
		return
	}
	s.logger.Info("watching targets", zap.String("path", s.cfg.TargetsPath))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	reload := func() {
		if err := s.Reload(); err != nil {
			s.logger.Warn("targets reload failed; keeping previous targets", zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("targets watch error", zap.Error(err))
		}
	}
}
