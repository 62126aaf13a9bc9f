package engine

import (
	"errors"
	"fmt"
)

// Rule rejection codes surfaced to the wire protocol.
const (
	CodeIllegalAction = "ILLEGAL_ACTION"
	CodeIllegalAmount = "ILLEGAL_AMOUNT"
	CodeCommandFailed = "COMMAND_FAILED"
)

// ErrClosed is returned by Dispatch after the engine has shut down.
var ErrClosed = errors.New("engine closed")

// RuleError is a rejected event: the table state is unchanged and the
// caller should resync the offending client with a fresh snapshot.
type RuleError struct {
	Code   string
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func ruleErrorf(code, format string, args ...interface{}) *RuleError {
	return &RuleError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// AsRuleError unwraps a RuleError if err is one.
func AsRuleError(err error) (*RuleError, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
