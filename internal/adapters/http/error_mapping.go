package httpadapter

import (
	"net/http"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// statusClientClosedRequest is the de facto status for requests abandoned
// by the caller.
const statusClientClosedRequest = 499

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrDocumentNotFound), domain.IsKind(err, domain.ErrPaperNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrNoEvidence):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrCancelled):
		return statusClientClosedRequest
	case domain.IsKind(err, domain.ErrProviderRateLimited):
		return http.StatusTooManyRequests
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrRetrievalUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorOutcome labels failed answers in metrics.
func errorOutcome(err error) string {
	switch mapErrorToHTTPStatus(err) {
	case http.StatusUnprocessableEntity:
		return "no_evidence"
	case statusClientClosedRequest:
		return "cancelled"
	case http.StatusBadRequest:
		return "invalid"
	default:
		return "error"
	}
}
