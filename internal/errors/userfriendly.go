package errors

import (
	"fmt"
	"strings"
)

// UserFriendlyError provides user-friendly error messages with context and hints
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// WrapNetworkError wraps responder/generator socket errors with context
func WrapNetworkError(err error, ip string, port int) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to reach Modbus endpoint at %s:%d", ip, port),
		Reason:  extractNetworkReason(err),
		Hint:    "The echo responder may not be running, or another process holds the port",
		Try:     fmt.Sprintf("modsim server --listen-ip %s --listen-port %d", ip, port),
		Err:     err,
	}
}

// WrapFrameError wraps a malformed Modbus frame error with context
func WrapFrameError(err error, peer string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Malformed Modbus/TCP frame from %s", peer),
		Reason:  extractFrameReason(err),
		Hint:    "Only the synthetic request shape (MBAP + function + address + value) is understood",
		Err:     err,
	}
}

// WrapConfigError wraps configuration errors with user-friendly context
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    "Compare against the defaults printed by config print-default",
		Try:     "modsim config print-default > modsim.yaml",
		Err:     err,
	}
}

func extractNetworkReason(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Connection timeout - endpoint may be offline or unreachable"
	}
	if strings.Contains(errStr, "connection refused") {
		return "Connection refused - nothing is listening on this port"
	}
	if strings.Contains(errStr, "address already in use") {
		return "Address in use - another listener already owns this port"
	}
	if strings.Contains(errStr, "connection reset") {
		return "Connection reset - peer closed the connection unexpectedly"
	}

	return "Network communication failed"
}

func extractFrameReason(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "truncated") {
		return "Frame is shorter than the fixed request size"
	}
	if strings.Contains(errStr, "protocol ID") {
		return "MBAP protocol ID is not zero"
	}
	if strings.Contains(errStr, "MBAP length") {
		return "MBAP length field does not match the payload"
	}

	return "Frame could not be decoded"
}
