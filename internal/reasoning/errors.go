package reasoning

import (
	"errors"
	"fmt"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

// Unavailable wraps a transport or API failure as ModelUnavailable.
// Errors that already carry a router error type pass through.
func Unavailable(provider string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return domain.ErrModelUnavailable(fmt.Sprintf("%s: %v", provider, err)).WithCause(err)
}

// EmptyReply is returned when the model produced no content at all.
func EmptyReply(provider string) error {
	return domain.ErrMalformedOutput(fmt.Sprintf("%s returned an empty reply", provider))
}
