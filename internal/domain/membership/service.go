package membership

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yogaspace/yogaspace-api/internal/pkg/logger"
)

// DefaultRenewalGrace is how long a subscription-backed membership survives
// past expiry waiting for its renewal invoice.
const DefaultRenewalGrace = 48 * time.Hour

type Service struct {
	repo  Repository
	grace time.Duration
	now   func() time.Time
}

func NewService(repo Repository, grace time.Duration) *Service {
	if grace < 0 {
		grace = 0
	}
	return &Service{repo: repo, grace: grace, now: time.Now}
}

// Current returns the active membership or ErrNoMembership. A row past its
// expiry that the worker has not swept yet is reported as no membership.
func (s *Service) Current(ctx context.Context, userID uuid.UUID) (*Membership, error) {
	m, err := s.repo.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	limit := m.ExpiryDate
	if m.Recurring() {
		limit = limit.Add(s.grace)
	}
	if !s.now().Before(limit) {
		return nil, ErrNoMembership
	}
	return m, nil
}

// ExpireLapsed deactivates everything past expiry and returns the count.
func (s *Service) ExpireLapsed(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireLapsed(ctx, s.now(), s.grace)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.FromContext(ctx).Info().Int64("count", n).Msg("expired lapsed memberships")
	}
	return n, nil
}
