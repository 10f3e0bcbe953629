package schedule

import (
	"strings"

	"github.com/livinlefevreloca/payfetch/internal/cron"
)

// validateEmail applies a light RFC-5322-style syntax check: a non-empty
// local part, a non-empty domain containing a dot, and no whitespace.
func validateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "sender_email", Reason: "must not be empty"}
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return &ValidationError{Field: "sender_email", Reason: "must not contain whitespace"}
	}

	at := strings.LastIndex(email, "@")
	if at < 0 {
		return &ValidationError{Field: "sender_email", Reason: "missing @"}
	}

	local, domain := email[:at], email[at+1:]
	if local == "" {
		return &ValidationError{Field: "sender_email", Reason: "missing local part"}
	}
	if domain == "" {
		return &ValidationError{Field: "sender_email", Reason: "missing domain"}
	}
	if !strings.Contains(domain, ".") {
		return &ValidationError{Field: "sender_email", Reason: "domain must contain a dot"}
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return &ValidationError{Field: "sender_email", Reason: "domain must not start or end with a dot"}
	}

	return nil
}

// validateCron checks the expression parses as a five-field cron schedule
func validateCron(expr string) error {
	if _, err := cron.Parse(expr); err != nil {
		return &ValidationError{Field: "schedule", Reason: err.Error()}
	}
	return nil
}
