package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/lock"
	"github.com/yogaspace/yogaspace-api/internal/pkg/metrics"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

const reconcileLockKey = "lock:payments:reconcile"

type ReconcilerConfig struct {
	Interval time.Duration
	Lookback time.Duration
	Batch    int
}

// ReconcileStats summarises one pass.
type ReconcileStats struct {
	Examined       int
	Applied        int
	AlreadyApplied int
	Deferred       int
	Skipped        int
	Failed         int
	ClaimsExpired  int
}

// Reconciler sweeps recently completed sessions and applies anything the
// webhook and the verifier both missed.
type Reconciler struct {
	client    provider.Provider
	resolver  *Resolver
	ledger    Ledger
	locker    lock.Locker
	publisher StatusPublisher

	interval time.Duration
	lookback time.Duration
	batch    int

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	now      func() time.Time
}

func NewReconciler(client provider.Provider, resolver *Resolver, l Ledger, locker lock.Locker, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 48 * time.Hour
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 500
	}
	if locker == nil {
		locker = lock.Noop{}
	}
	return &Reconciler{
		client:   client,
		resolver: resolver,
		ledger:   l,
		locker:   locker,
		interval: cfg.Interval,
		lookback: cfg.Lookback,
		batch:    cfg.Batch,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// WithPublisher announces sessions this sweep settles.
func (r *Reconciler) WithPublisher(p StatusPublisher) *Reconciler {
	r.publisher = p
	return r
}

// RunOnce performs a single pass. It returns lock.ErrNotAcquired when
// another instance is already reconciling.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats

	token, err := r.locker.TryLock(ctx, reconcileLockKey, r.interval)
	if err != nil {
		return stats, err
	}
	defer func() {
		if err := r.locker.Unlock(context.Background(), reconcileLockKey, token); err != nil {
			log.Warn().Err(err).Msg("release reconcile lock failed")
		}
	}()

	since := r.now().Add(-r.lookback)
	sessions, err := r.client.ListCompletedSessions(ctx, since, r.batch)
	if err != nil {
		return stats, err
	}

	for _, sess := range sessions {
		stats.Examined++
		status, err := r.reconcile(ctx, sess)
		switch {
		case err != nil:
			stats.Failed++
			metrics.ReconcileSession("failed")
			log.Error().Err(err).Str("session_id", sess.ID).Msg("reconcile session failed")
			continue
		case status == StatusApplied:
			stats.Applied++
			log.Warn().Str("session_id", sess.ID).Msg("reconciler applied a missed payment")
			notifySettled(ctx, r.publisher, sess.ID, status)
		case status == StatusAlreadyApplied:
			stats.AlreadyApplied++
		case status == StatusDeferred:
			stats.Deferred++
			notifySettled(ctx, r.publisher, sess.ID, status)
		default:
			stats.Skipped++
		}
		metrics.ReconcileSession(status)
	}

	expired, err := r.ledger.ExpireClaims(ctx)
	if err != nil {
		log.Error().Err(err).Msg("expire pending claims failed")
	}
	stats.ClaimsExpired = expired

	return stats, nil
}

func (r *Reconciler) reconcile(ctx context.Context, sess *provider.Session) (string, error) {
	if !sess.IsPaid() {
		return StatusIgnored, nil
	}
	if len(sess.Lines) == 0 {
		fetched, err := r.client.GetCheckoutSession(ctx, sess.ID)
		if err != nil {
			return "", err
		}
		sess = fetched
	}

	grant, err := r.resolver.Grant(sess)
	if err != nil {
		return "", err
	}
	grant.Source = ledger.SourceReconciler
	return applyOrDefer(ctx, r.ledger, grant)
}

// Replay runs one session through the ledger on operator request. When
// payer is set it overrides the session's own attribution and the grant is
// never deferred, so an unknown payer surfaces as ledger.ErrUserNotFound.
func (r *Reconciler) Replay(ctx context.Context, sessionID string, payer uuid.UUID) (string, error) {
	sess, err := r.client.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !sess.IsPaid() {
		return StatusIgnored, nil
	}

	grant, err := r.resolver.Grant(sess)
	if err != nil {
		return "", err
	}
	grant.Source = ledger.SourceManual
	if payer == uuid.Nil {
		return applyOrDefer(ctx, r.ledger, grant)
	}

	grant.UserID = payer
	outcome, err := r.ledger.Apply(ctx, grant)
	if err != nil {
		return "", err
	}
	return outcomeStatus(outcome), nil
}

// Wake asks the loop for an early pass. Extra calls collapse into one.
func (r *Reconciler) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start runs the loop until Stop is called or ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	log.Info().Dur("interval", r.interval).Dur("lookback", r.lookback).Msg("starting payment reconciler")
	go r.loop(ctx)
}

// Stop halts the loop and waits for the running pass to finish.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		log.Info().Msg("stopping payment reconciler")
		close(r.stopCh)
	})
	<-r.done
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.pass(ctx)
	for {
		select {
		case <-ticker.C:
			r.pass(ctx)
		case <-r.wake:
			r.pass(ctx)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) pass(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, r.interval)
	defer cancel()

	stats, err := r.RunOnce(ctx)
	if errors.Is(err, lock.ErrNotAcquired) {
		log.Debug().Msg("reconcile skipped, lock held elsewhere")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("reconcile pass failed")
		return
	}
	log.Info().
		Int("examined", stats.Examined).
		Int("applied", stats.Applied).
		Int("already_applied", stats.AlreadyApplied).
		Int("deferred", stats.Deferred).
		Int("failed", stats.Failed).
		Int("claims_expired", stats.ClaimsExpired).
		Msg("reconcile pass finished")
}
