package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"device-control-relay/internal/domain"
	"device-control-relay/internal/service"
	"device-control-relay/pkg/response"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicatePending), errors.Is(err, domain.ErrTargetUnreachable), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError answers with the error's wire code. Server-side failures hide
// their cause from the caller.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	message := err.Error()

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			message = "Internal server error"
		}
	} else {
		logger.Info("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	response.ErrorWithCode(w, status, domain.ErrorCode(err), message)
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidPayload, err)
	}
	return service.Validate(v)
}
