package httpapi

import (
	"errors"
	"net/http"

	"github.com/roamly/discovery/internal/app/services/discovery"
	apperrors "github.com/roamly/discovery/internal/errors"
)

var conflicts = []error{
	discovery.ErrItemNotReady,
	discovery.ErrNegotiationOpen,
	discovery.ErrNegotiationClosed,
	discovery.ErrNoNegotiation,
	discovery.ErrQueueExhausted,
	discovery.ErrSessionClosed,
	discovery.ErrSessionNotActive,
	discovery.ErrSessionBusy,
	discovery.ErrScheduleUnavailable,
}

// toServiceError classifies engine errors into the HTTP error envelope.
func toServiceError(err error) *apperrors.ServiceError {
	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}

	var fields discovery.FieldErrors
	if errors.As(err, &fields) {
		return apperrors.Validation("invalid schedule input", err).WithDetails("fields", map[string]string(fields))
	}

	switch {
	case errors.Is(err, discovery.ErrSessionNotFound):
		return &apperrors.ServiceError{Code: apperrors.CodeNotFound, Message: err.Error(), HTTPStatus: http.StatusNotFound}
	case errors.Is(err, discovery.ErrInvalidRequest):
		return apperrors.BadRequest(err.Error())
	case errors.Is(err, discovery.ErrGenerationFailed):
		return apperrors.Upstream(discovery.ErrGenerationFailed.Error(), err)
	case errors.Is(err, discovery.ErrScheduleRejected):
		return apperrors.Upstream(discovery.ErrScheduleRejected.Error(), err)
	}
	for _, target := range conflicts {
		if errors.Is(err, target) {
			return apperrors.Conflict(target.Error(), err)
		}
	}
	return apperrors.Internal("internal error", err)
}

// withID names the missing session in not-found errors.
func withID(err error, id string) error {
	if errors.Is(err, discovery.ErrSessionNotFound) {
		return apperrors.NotFound("session", id)
	}
	return err
}
