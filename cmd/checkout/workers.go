package main

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// backgroundWorkers tracks the loops that run next to the HTTP server so shutdown
// can wait for them before closing the pool and the producer they use.
type backgroundWorkers struct {
	group  errgroup.Group
	logger *zap.Logger
}

func newBackgroundWorkers(logger *zap.Logger) *backgroundWorkers {
	return &backgroundWorkers{logger: logger}
}

// Go runs fn until it returns. A failing worker is logged and does not stop the others.
func (w *backgroundWorkers) Go(ctx context.Context, name string, fn func(context.Context) error) {
	w.group.Go(func() error {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Background worker stopped", zap.String("worker", name), zap.Error(err))
		}
		w.logger.Info("Background worker exited", zap.String("worker", name))
		return nil
	})
}

// Wait blocks until every worker has returned or ctx expires.
func (w *backgroundWorkers) Wait(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- w.group.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
