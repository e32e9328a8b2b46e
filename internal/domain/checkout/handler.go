package checkout

import (
	"errors"
	"net/http"

	"github.com/yogaspace/yogaspace-api/internal/middleware"
	"github.com/yogaspace/yogaspace-api/internal/pkg/errorhandler"
	"github.com/yogaspace/yogaspace-api/internal/pkg/payment"
	"github.com/yogaspace/yogaspace-api/internal/pkg/response"
	"github.com/yogaspace/yogaspace-api/internal/pkg/validator"
)

// Handler handles checkout HTTP requests
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create starts a hosted checkout session
// POST /api/v1/payments/checkout
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	ctx := r.Context()
	result, err := h.service.Start(ctx, req.ToIntent(), payment.Mode(req.Mode), middleware.GetUserID(ctx), r.Header.Get("Idempotency-Key"))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidIntent):
			response.Unprocessable(w, "INVALID_INTENT", err.Error())
		case errors.Is(err, payment.ErrProviderUnavailable):
			errorhandler.HandleError(ctx, w, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE",
				"Payment provider is unavailable, please try again", err)
		default:
			errorhandler.HandleError(ctx, w, http.StatusBadGateway, "PAYMENT_ERROR",
				"Could not start checkout, please try again", err)
		}
		return
	}

	response.Raw(w, http.StatusOK, CreateResponse{URL: result.URL, SessionID: result.SessionID})
}
