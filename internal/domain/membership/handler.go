package membership

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yogaspace/yogaspace-api/internal/middleware"
	"github.com/yogaspace/yogaspace-api/internal/pkg/errorhandler"
	"github.com/yogaspace/yogaspace-api/internal/pkg/response"
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
	r.Get("/", h.Current)
	return r
}

// CurrentResponse always carries active; membership is null without one.
type CurrentResponse struct {
	Active     bool        `json:"active"`
	Membership *Membership `json:"membership"`
	Recurring  bool        `json:"recurring"`
	DaysLeft   int         `json:"daysLeft"`
}

// Current GET /api/v1/membership
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := h.svc.Current(ctx, middleware.GetUserID(ctx))
	if errors.Is(err, ErrNoMembership) {
		response.OK(w, CurrentResponse{})
		return
	}
	if err != nil {
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load membership", err)
		return
	}

	response.OK(w, CurrentResponse{
		Active:     true,
		Membership: m,
		Recurring:  m.Recurring(),
		DaysLeft:   m.DaysLeft(time.Now()),
	})
}
