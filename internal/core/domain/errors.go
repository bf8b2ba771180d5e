package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrPaperNotFound    = errors.New("paper not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")

	// Evidence pipeline failures. Only ErrNoEvidence and ErrCancelled are
	// surfaced to callers of AnswerQuestion; the rest are recovered locally.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrGenerationFailure    = errors.New("generation failure")
	ErrProviderRateLimited  = errors.New("provider rate limited")
	ErrFetchTimeout         = errors.New("fetch timeout")
	ErrCacheUnreadable      = errors.New("cache unreadable")
	ErrNoEvidence           = errors.New("no evidence available")
	ErrCancelled            = errors.New("cancelled")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
