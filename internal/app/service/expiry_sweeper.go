package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExpirySweeper periodically runs SweepExpired on its own goroutine.
type ExpirySweeper struct {
	logger    *zap.Logger
	links     LinkService
	interval  time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewExpirySweeper creates a new sweeper running every interval.
func NewExpirySweeper(logger *zap.Logger, links LinkService, interval time.Duration) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirySweeper{
		logger:   logger,
		links:    links,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the periodic sweep. Calls after the first, or after Stop, do nothing.
func (s *ExpirySweeper) Start() {
	s.startOnce.Do(func() { go s.run() })
}

// Stop stops the sweep and waits for an in-flight pass to finish.
func (s *ExpirySweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	// Never started: nothing will close done.
	s.startOnce.Do(func() { close(s.done) })
	<-s.done
}

func (s *ExpirySweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopChan:
			s.logger.Info("expiry sweeper stopped")
			return
		}
	}
}

func (s *ExpirySweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	now := s.now()
	count, err := s.links.SweepExpired(ctx, now)
	if err != nil {
		s.logger.Error("failed to sweep expired links", zap.Int("swept", count), zap.Error(err))
		return
	}

	if count > 0 {
		s.logger.Info("swept expired links",
			zap.Int("count", count),
			zap.Time("now", now),
		)
	}
}
