package branching

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a participation or survey does not exist.
// Stores wrap it so callers can test with errors.Is.
var ErrNotFound = errors.New("not found")

// ErrParticipationComplete rejects responses to a finished participation.
var ErrParticipationComplete = errors.New("participation is complete")

// ConfigurationError reports rule data that cannot be evaluated
type ConfigurationError struct {
	RuleID int64
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.RuleID == 0 {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error in rule %d: %s", e.RuleID, e.Reason)
}

func configErr(ruleID int64, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{RuleID: ruleID, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
