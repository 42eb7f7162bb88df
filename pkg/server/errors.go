package server

import (
	"net/http"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/cosign"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/ratelimit"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer"
	"github.com/pkg/errors"
)

// HTTPError is an error with the status code and plain text body it maps to.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

func NewBadRequestError(message string) *HTTPError {
	return NewHTTPError(http.StatusBadRequest, message)
}

func NewUnauthorizedError() *HTTPError {
	return NewHTTPError(http.StatusUnauthorized, "Unauthorized")
}

func NewForbiddenError(message string) *HTTPError {
	return NewHTTPError(http.StatusForbidden, message)
}

func NewNotFoundError(message string) *HTTPError {
	return NewHTTPError(http.StatusNotFound, message)
}

func NewTooManyRequestsError() *HTTPError {
	return NewHTTPError(http.StatusTooManyRequests, "Too Many Requests")
}

func NewInternalError(message string) *HTTPError {
	if message == "" {
		message = http.StatusText(http.StatusInternalServerError)
	}
	return NewHTTPError(http.StatusInternalServerError, message)
}

// toHTTPError maps domain errors to their HTTP form. Unknown errors become
// a 500 carrying the error message.
func toHTTPError(err error) *HTTPError {
	var httpErr *HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr
	case errors.Is(err, cosign.ErrCollectionNotFound):
		return NewNotFoundError(cosign.ErrCollectionNotFound.Error())
	case errors.Is(err, cosign.ErrCollectionNotActive):
		return NewForbiddenError(cosign.ErrCollectionNotActive.Error())
	case errors.Is(err, cosign.ErrInvalidRequest):
		return NewBadRequestError(err.Error())
	case errors.Is(err, ratelimit.ErrRateLimited):
		return NewTooManyRequestsError()
	case errors.Is(err, signer.ErrSignerNotConfigured):
		return NewInternalError(signer.ErrSignerNotConfigured.Error())
	default:
		return NewInternalError(err.Error())
	}
}
