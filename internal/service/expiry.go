package service

import (
	"context"
	"log"
	"sync"
	"time"

	"purchase-settlement-api/internal/metrics"
	"purchase-settlement-api/internal/repository"
)

// ExpiryConfig holds configuration for the reservation expiry sweeper.
type ExpiryConfig struct {
	// Grace is added past a reservation's expiry before it is swept, so a
	// payment that lands right at the deadline still finds its reservation.
	// Default: 30 seconds
	Grace time.Duration

	// Interval is how often the sweep runs.
	// Default: 1 minute
	Interval time.Duration
}

// ExpiryScheduler periodically moves stale reservations to expired.
type ExpiryScheduler struct {
	repo      repository.ReservationRepository
	config    ExpiryConfig
	now       func() time.Time
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewExpiryScheduler creates a new expiry scheduler.
func NewExpiryScheduler(repo repository.ReservationRepository, config ExpiryConfig) *ExpiryScheduler {
	if config.Grace < 0 {
		config.Grace = 0
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}

	return &ExpiryScheduler{
		repo:   repo,
		config: config,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *ExpiryScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	log.Printf("[ExpiryScheduler] Started - Interval: %v, Grace: %v", s.config.Interval, s.config.Grace)

	go s.run()
}

func (s *ExpiryScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			if _, err := s.RunNow(); err != nil {
				log.Printf("[ExpiryScheduler] Error during sweep: %v", err)
			}
		case <-s.stopCh:
			log.Printf("[ExpiryScheduler] Stopped")
			return
		}
	}
}

// Stop stops the sweep loop.
func (s *ExpiryScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow performs one sweep immediately and returns how many reservations expired.
func (s *ExpiryScheduler) RunNow() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.config.Grace)
	expired, err := s.repo.ExpireReservations(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		metrics.ReservationsExpiredTotal.Add(float64(expired))
		log.Printf("[ExpiryScheduler] Expired %d reservations (cutoff: %s)", expired, cutoff.Format(time.RFC3339))
	}
	return expired, nil
}
