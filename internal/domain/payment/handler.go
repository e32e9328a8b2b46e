package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	"github.com/yogaspace/yogaspace-api/internal/middleware"
	"github.com/yogaspace/yogaspace-api/internal/pkg/errorhandler"
	"github.com/yogaspace/yogaspace-api/internal/pkg/logger"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
	"github.com/yogaspace/yogaspace-api/internal/pkg/response"
	"github.com/yogaspace/yogaspace-api/internal/pkg/validator"
)

const (
	maxWebhookBody  = 1 << 20
	signatureHeader = "Stripe-Signature"
)

// Handler serves the provider webhook and the browser-facing payment calls.
type Handler struct {
	webhook  *WebhookService
	verify   *VerifyService
	ledger   Ledger
	hub      *Hub
	lookup   StatusLookup
	upgrader websocket.Upgrader
}

func NewHandler(webhook *WebhookService, verify *VerifyService, l Ledger) *Handler {
	return &Handler{webhook: webhook, verify: verify, ledger: l}
}

// Routes mounts the payment endpoints. The webhook is unauthenticated; the
// provider signature is its only credential.
func (h *Handler) Routes(auth, optionalAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/webhook", h.Webhook)
	r.With(optionalAuth).Post("/verify", h.Verify)
	r.With(auth).Post("/claims/redeem", h.Redeem)
	return r
}

// Webhook receives provider events
// POST /api/v1/payments/webhook
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.Raw(w, http.StatusBadRequest, WebhookError{Message: "Request body too large or unreadable"})
		return
	}

	ctx := r.Context()
	status, err := h.webhook.Handle(ctx, payload, r.Header.Get(signatureHeader))
	if err != nil {
		code, msg := webhookStatus(err)
		l := logger.FromContext(ctx)
		if code >= 500 {
			l.Error().Err(err).Int("status", code).Msg("webhook failed, provider will retry")
		} else {
			l.Warn().Err(err).Int("status", code).Msg("webhook rejected")
		}
		response.Raw(w, code, WebhookError{Message: msg})
		return
	}

	response.Raw(w, http.StatusOK, WebhookAck{Received: true, Status: status})
}

func webhookStatus(err error) (int, string) {
	switch {
	case errors.Is(err, provider.ErrSignatureInvalid):
		return http.StatusBadRequest, "Invalid signature"
	case errors.Is(err, provider.ErrMalformedEvent):
		return http.StatusBadRequest, "Malformed event"
	case errors.Is(err, ErrUnmappedPrice):
		return http.StatusUnprocessableEntity, "Unknown price"
	case errors.Is(err, ledger.ErrInvalidGrant):
		return http.StatusUnprocessableEntity, "Event cannot be applied"
	case IsRetryable(err):
		return http.StatusServiceUnavailable, "Temporarily unavailable"
	default:
		return http.StatusInternalServerError, "Webhook processing failed"
	}
}

// Verify re-confirms a session after the browser returns from checkout
// POST /api/v1/payments/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	ctx := r.Context()
	result, err := h.verify.Verify(ctx, req.SessionID, middleware.GetUserID(ctx))
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionIDRequired):
			response.BadRequest(w, "sessionId is required")
		case errors.Is(err, provider.ErrSessionNotFound), errors.Is(err, provider.ErrInvalidRequest):
			response.NotFound(w, "Checkout session not found")
		case errors.Is(err, ErrPayerMismatch):
			response.Forbidden(w, "This payment belongs to another account")
		case errors.Is(err, ErrUnmappedPrice):
			response.Unprocessable(w, "UNMAPPED_PRICE", "Payment could not be matched to a product, please contact support")
		case errors.Is(err, ledger.ErrUserNotFound):
			response.NotFound(w, "User not found")
		case IsRetryable(err):
			errorhandler.HandleError(ctx, w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
				"Could not confirm payment right now, please try again", err)
		default:
			errorhandler.HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not confirm payment", err)
		}
		return
	}

	response.Raw(w, http.StatusOK, VerifyResponseFrom(result))
}

// Redeem applies a pending claim to the signed-in user
// POST /api/v1/payments/claims/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	ctx := r.Context()
	claim, outcome, err := h.ledger.Redeem(ctx, req.SessionID, middleware.GetUserID(ctx))
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrClaimNotFound):
			response.NotFound(w, "No pending payment for this session")
		case errors.Is(err, ledger.ErrClaimUnavailable):
			response.Conflict(w, "This payment was already claimed or has expired")
		case errors.Is(err, ledger.ErrUserNotFound):
			response.NotFound(w, "User not found")
		case errors.Is(err, ledger.ErrPersistence):
			errorhandler.HandleError(ctx, w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
				"Could not redeem payment right now, please try again", err)
		default:
			errorhandler.HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not redeem payment", err)
		}
		return
	}

	response.OK(w, RedeemResponseFrom(claim, outcome))
}
