package auth

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yogaspace/yogaspace-api/internal/pkg/errorhandler"
	"github.com/yogaspace/yogaspace-api/internal/pkg/response"
	"github.com/yogaspace/yogaspace-api/internal/pkg/validator"
)

// Handler handles auth HTTP requests
type Handler struct {
	service *OTPService
}

// NewHandler creates auth handler
func NewHandler(service *OTPService) *Handler {
	return &Handler{service: service}
}

// Routes returns auth router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/otp/send", h.Send)
	r.Post("/otp/verify", h.Verify)
	return r
}

func fail(w http.ResponseWriter, status int, message string) {
	response.Raw(w, status, OTPResponse{Success: false, Message: message})
}

// Send handles POST /auth/otp/send
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		fail(w, http.StatusBadRequest, "Phone number is required")
		return
	}

	err := h.service.Send(r.Context(), req.Phone)
	switch {
	case err == nil:
		response.Raw(w, http.StatusOK, OTPResponse{Success: true, Message: "Verification code sent"})
	case errors.Is(err, ErrInvalidPhone):
		fail(w, http.StatusBadRequest, "Invalid phone number")
	case errors.Is(err, ErrResendCooldown):
		fail(w, http.StatusTooManyRequests, "Please wait before requesting another code")
	case errors.Is(err, ErrDeliveryFailed):
		errorhandler.LogExternalServiceError(r.Context(), "sms", "send_otp", err)
		fail(w, http.StatusBadGateway, "Could not send the code, please try again")
	default:
		errorhandler.LogExternalServiceError(r.Context(), "redis", "send_otp", err)
		fail(w, http.StatusInternalServerError, "Could not send the code, please try again")
	}
}

// Verify handles POST /auth/otp/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		fail(w, http.StatusBadRequest, "Enter the six-digit code")
		return
	}

	res, err := h.service.Verify(r.Context(), req.Phone, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidPhone):
			fail(w, http.StatusBadRequest, "Invalid phone number")
		case errors.Is(err, ErrInvalidCode):
			fail(w, http.StatusBadRequest, "Invalid or expired code")
		case errors.Is(err, ErrTooManyAttempts):
			fail(w, http.StatusTooManyRequests, "Too many attempts, request a new code")
		case errors.Is(err, ErrUserBanned):
			fail(w, http.StatusForbidden, "Your account has been banned")
		default:
			errorhandler.LogExternalServiceError(r.Context(), "auth", "verify_otp", err)
			fail(w, http.StatusInternalServerError, "Could not verify the code, please try again")
		}
		return
	}

	u := res.User
	response.Raw(w, http.StatusOK, OTPResponse{
		Success:     true,
		Message:     "Signed in",
		AccessToken: res.AccessToken,
		ExpiresAt:   &res.ExpiresAt,
		IsNewUser:   res.IsNewUser,
		User: &UserResponse{
			ID:            u.ID,
			Phone:         u.Phone.String,
			Role:          string(u.Role),
			CreditBalance: u.CreditBalance,
		},
	})
}
