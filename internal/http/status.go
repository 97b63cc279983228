package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mcpdeck/gateway/internal/domain"
	"github.com/mcpdeck/gateway/internal/observability"
)

// kindStatus maps each domain error kind to an HTTP status code. Transport
// mapping lives here only; services never see status codes.
var kindStatus = map[domain.ErrorKind]int{
	domain.KindAuthenticationRequired: http.StatusUnauthorized,
	domain.KindUnauthorized:           http.StatusForbidden,
	domain.KindAccessDenied:           http.StatusForbidden,
	domain.KindNoCredits:              http.StatusPaymentRequired,
	domain.KindInsufficientCredits:    http.StatusPaymentRequired,
	domain.KindRateLimited:            http.StatusTooManyRequests,
	domain.KindUpstreamError:          http.StatusBadGateway,
	domain.KindInvalidPackage:         http.StatusBadRequest,
	domain.KindInvalidRequest:         http.StatusBadRequest,
	domain.KindNotFound:               http.StatusNotFound,
	domain.KindInternal:               http.StatusInternalServerError,
}

// statusFor resolves the HTTP status for an error by its kind.
func statusFor(err error) int {
	if code, ok := kindStatus[domain.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeError serializes a domain error with its mapped status code.
// Internal errors are logged with the cause but surfaced with a generic
// message.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := statusFor(err)

	message := err.Error()
	if kind == domain.KindInternal {
		observability.FromContext(ctx).Error("request failed",
			observability.Error(err))
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Kind:    string(kind),
			Message: message,
		},
	})
}
