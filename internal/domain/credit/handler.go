package credit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/yogaspace/yogaspace-api/internal/middleware"
	"github.com/yogaspace/yogaspace-api/internal/pkg/errorhandler"
	"github.com/yogaspace/yogaspace-api/internal/pkg/response"
	"github.com/yogaspace/yogaspace-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.Balance)
	r.Get("/transactions", h.Transactions)
	r.Post("/spend", h.Spend)
	r.With(middleware.RequireAdmin()).Get("/audit", h.Audit)
	return r
}

// Balance GET /api/v1/credits
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	balance, err := h.svc.GetBalance(ctx, middleware.GetUserID(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, BalanceResponse{Balance: balance})
}

// Transactions GET /api/v1/credits/transactions?limit&offset
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	ctx := r.Context()
	// One extra row tells us whether another page exists.
	items, err := h.svc.ListTransactions(ctx, middleware.GetUserID(ctx), Pagination{Limit: limit + 1, Offset: offset})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	hasNext := len(items) > limit
	if hasNext {
		items = items[:limit]
	}
	response.WithMeta(w, items, response.Meta{Limit: limit, Offset: offset, Count: len(items), HasNext: hasNext})
}

// Spend POST /api/v1/credits/spend
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	var req SpendBody
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	ctx := r.Context()
	res, err := h.svc.Spend(ctx, SpendRequest{
		UserID:      middleware.GetUserID(ctx),
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.OK(w, SpendResponse{Transaction: res.Transaction, Balance: res.Balance, Replayed: res.Replayed})
}

// Audit lists users whose cached balance disagrees with the ledger
// GET /api/v1/credits/audit (admin)
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	mismatches, err := h.svc.Audit(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if mismatches == nil {
		mismatches = []Mismatch{}
	}
	response.OK(w, mismatches)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrReferenceRequired):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrInsufficientCredits):
		response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", "Not enough credits")
	case errors.Is(err, ErrReferenceConflict):
		response.Conflict(w, "referenceId already used with a different amount")
	case errors.Is(err, ErrUserNotFound):
		response.NotFound(w, "User not found")
	default:
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Credit operation failed", err)
	}
}
