package service

import (
	"context"
	"fmt"
	"time"

	"shop-catalog/internal/storage"

	"go.uber.org/zap"
)

// Janitor removes staged uploads that were never attached to a product.
type Janitor struct {
	staged   storage.StagedStore
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewJanitor creates a Janitor that deletes staged assets older than ttl every interval.
// Both durations must be positive.
func NewJanitor(staged storage.StagedStore, ttl, interval time.Duration, logger *zap.Logger) (*Janitor, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("staged image ttl must be positive, got %s", ttl)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	return &Janitor{
		staged:   staged,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SweepOnce deletes the expired staged assets and returns their names.
func (j *Janitor) SweepOnce(ctx context.Context) ([]string, error) {
	cutoff := j.now().Add(-j.ttl)

	removed, err := j.staged.Sweep(ctx, cutoff)
	if err != nil {
		return removed, fmt.Errorf("failed to sweep staged images: %w", err)
	}

	if len(removed) > 0 {
		j.logger.Info("Swept staged images",
			zap.Int("count", len(removed)),
			zap.Time("cutoff", cutoff),
		)
	}
	return removed, nil
}

// Run sweeps on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("Staged image janitor started",
		zap.Duration("ttl", j.ttl),
		zap.Duration("interval", j.interval),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Staged image janitor stopped")
			return
		case <-ticker.C:
			if _, err := j.SweepOnce(ctx); err != nil {
				j.logger.Error("Staged image sweep failed", zap.Error(err))
			}
		}
	}
}
