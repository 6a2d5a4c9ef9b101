// Package provider holds shared plumbing for the concrete geocoding
// provider adapters. Response parsing stays inside each adapter package;
// only transport-level error classification is common.
package provider

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/couchcryptid/address-geocoding/internal/domain"
)

// KindFromStatus classifies a non-200 HTTP status into a provider error kind.
func KindFromStatus(status int) domain.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrKindInvalidCredential
	case status == http.StatusTooManyRequests:
		return domain.ErrKindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.ErrKindTimeout
	default:
		return domain.ErrKindUnavailable
	}
}

// KindFromRequestError classifies a transport error from http.Client.Do.
func KindFromRequestError(err error) domain.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrKindTimeout
	}
	return domain.ErrKindUnavailable
}
