package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/score-keeper/internal/config"
	"github.com/score-keeper/internal/mirror"
	"github.com/score-keeper/internal/store"
)

// SyncWorker periodically rebuilds the realtime leaderboard mirror from the
// authoritative score store. One-way: the store is never written from the
// mirror.
type SyncWorker struct {
	store   store.Store
	mirror  *mirror.Mirror
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(st store.Store, m *mirror.Mirror, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		store:  st,
		mirror: m,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background rebuild process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("mirror sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background rebuild process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("mirror sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.Rebuild(ctx); err != nil {
				w.logger.Error("mirror rebuild failed", "error", err)
			}
		}
	}
}

// Rebuild replaces the mirror contents with the store's current records. Also
// used once at startup for recovery.
func (w *SyncWorker) Rebuild(ctx context.Context) error {
	startTime := time.Now()

	records, err := w.store.All(ctx)
	if err != nil {
		return err
	}

	if err := w.mirror.Rebuild(ctx, records); err != nil {
		return err
	}

	w.logger.Info("mirror rebuilt",
		"players", len(records),
		"duration", time.Since(startTime),
	)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
