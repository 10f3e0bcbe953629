package gmail

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
)

// Provider failure classes. Callers branch on these instead of HTTP codes.
var (
	// ErrUnauthorized means the token is invalid or revoked. Retrying is
	// pointless until the user re-authenticates.
	ErrUnauthorized = errors.New("gmail: unauthorized")

	// ErrRateLimited means the provider pushed back on request volume
	ErrRateLimited = errors.New("gmail: rate limited")

	// ErrTransient covers provider-side failures worth retrying
	ErrTransient = errors.New("gmail: transient provider error")

	// ErrNotFound means the message or attachment no longer exists
	ErrNotFound = errors.New("gmail: not found")
)

// classify maps a raw API error onto the failure classes above. Errors that
// fit no class pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	switch {
	case apiErr.Code == 401:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case apiErr.Code == 403 && isQuotaError(apiErr):
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	case apiErr.Code == 403:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case apiErr.Code == 429:
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	case apiErr.Code == 404:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	case apiErr.Code >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, apiErr.Code, apiErr.Message)
	default:
		return err
	}
}

// isQuotaError distinguishes quota-flavored 403s from permission 403s
func isQuotaError(apiErr *googleapi.Error) bool {
	for _, e := range apiErr.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "rate limit") ||
		strings.Contains(strings.ToLower(apiErr.Message), "quota")
}

// Retryable reports whether a classified error is worth another attempt
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}
