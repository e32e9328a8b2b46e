package errorhandler

import (
	"context"
	"net/http"

	"github.com/yogaspace/yogaspace-api/internal/pkg/logger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/response"
)

// HandleError logs the failure with the request logger and writes the envelope.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	l := logger.FromContext(ctx)
	event := l.Error()
	if status < http.StatusInternalServerError {
		event = l.Warn()
	}

	event.
		Str("error_code", code).
		Int("status_code", status).
		Err(err).
		Msg(message)

	response.Error(w, status, code, message)
}

// LogExternalServiceError logs errors from external service calls
func LogExternalServiceError(ctx context.Context, service, operation string, err error) {
	logger.FromContext(ctx).Error().
		Str("external_service", service).
		Str("operation", operation).
		Err(err).
		Msg("External service error")
}
