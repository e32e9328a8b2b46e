package credit

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/yogaspace/yogaspace-api/internal/pkg/logger"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Service is the read side of the credit ledger plus usage.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetBalance returns the current credit balance for a user
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.GetBalance(ctx, userID)
}

// ListTransactions returns the newest transactions first. Callers bound the limit.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, p Pagination) ([]Transaction, error) {
	if p.Limit <= 0 {
		p.Limit = defaultListLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return s.repo.ListTransactions(ctx, userID, p)
}

// Spend debits amount once per reference. A replay with the same amount
// returns the original row.
func (s *Service) Spend(ctx context.Context, req SpendRequest) (*SpendResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	req.ReferenceID = strings.TrimSpace(req.ReferenceID)
	if req.ReferenceID == "" {
		return nil, ErrReferenceRequired
	}
	if strings.TrimSpace(req.Description) == "" {
		req.Description = "credit usage"
	}

	res, err := s.repo.Spend(ctx, req)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("user_id", req.UserID.String()).
		Str("reference_id", req.ReferenceID).
		Int("amount", req.Amount).
		Int("balance", res.Balance).
		Bool("replayed", res.Replayed).
		Msg("credits spent")
	return res, nil
}

// Audit reports balance drift between users.credit_balance and the ledger.
func (s *Service) Audit(ctx context.Context) ([]Mismatch, error) {
	out, err := s.repo.Audit(ctx)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		logger.FromContext(ctx).Warn().Int("users", len(out)).Msg("credit balance drift detected")
	}
	return out, nil
}
