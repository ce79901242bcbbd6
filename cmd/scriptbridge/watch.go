package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/dshills/scriptbridge/internal/watcher"
)

// watch re-runs each script in paths when it changes, until ctx is done.
func (s *session) watch(ctx context.Context, paths []string) error {
	w, err := watcher.New(s.log.Named("watch"))
	if err != nil {
		return err
	}
	defer w.Close()

	for _, path := range paths {
		if err := w.Watch(path); err != nil {
			return err
		}
	}
	s.log.Info("watching scripts", zap.Strings("paths", w.WatchedPaths()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.Events():
			if !ok {
				return nil
			}
			if !event.Op.Changed() {
				continue
			}
			s.log.Info("script changed, re-running",
				zap.String("path", event.Path), zap.Stringer("op", event.Op))
			if err := s.runFile(ctx, event.Path); err != nil {
				reportError(err)
			}

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			s.log.Warn("watch error", zap.Error(err))
		}
	}
}
