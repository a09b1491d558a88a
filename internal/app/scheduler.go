package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/coach_agenda/internal/conflict"
	"github.com/Freeeeeet/coach_agenda/internal/metrics"
)

// Scheduler управляет фоновыми задачами
type Scheduler struct {
	index    *conflict.Index
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
}

// NewScheduler создаёт новый планировщик
func NewScheduler(index *conflict.Index, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		index:    index,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler", zap.Duration("sweep_interval", s.interval))

	go s.runIndexSweepTask(ctx)
}

// Stop останавливает фоновые задачи
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background scheduler")
	close(s.stopChan)
}

// runIndexSweepTask периодически сдвигает окно индекса занятости
func (s *Scheduler) runIndexSweepTask(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepIndex()
		case <-s.stopChan:
			s.logger.Info("Index sweep task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Index sweep task cancelled")
			return
		}
	}
}

// sweepIndex выкидывает из индекса данные за пределами окна
func (s *Scheduler) sweepIndex() {
	removed := s.index.Sweep()
	metrics.SetIndexCoaches(s.index.Len())
	s.logger.Debug("Index swept",
		zap.Int("removed_coaches", removed),
		zap.Int("coaches", s.index.Len()),
	)
}
