package membership

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Worker periodically expires lapsed memberships.
type Worker struct {
	svc      *Service
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker creates a new membership expiry worker
func NewWorker(svc *Service, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{
		svc:      svc,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the background worker
func (w *Worker) Start() {
	log.Info().Dur("interval", w.interval).Msg("Starting membership expiry worker...")
	go w.loop()
}

// Stop gracefully stops the background worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		log.Info().Msg("Stopping membership expiry worker...")
		close(w.stopCh)
	})
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.processExpirations()

	for {
		select {
		case <-ticker.C:
			w.processExpirations()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) processExpirations() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := w.svc.ExpireLapsed(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to expire lapsed memberships")
	}
}
