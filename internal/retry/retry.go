package retry

import (
	"context"
	"errors"
	"net"
	"strings"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// Transient marks err as retryable regardless of its cause.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{
		err:    err,
		class:  ClassTransient,
		reason: "explicit_transient",
	}
}

// Terminal marks err as non-retryable regardless of its cause.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{
		err:    err,
		class:  ClassTerminal,
		reason: "explicit_terminal",
	}
}

// StatusClassifier is implemented by errors that carry an HTTP status code.
type StatusClassifier interface {
	HTTPStatus() int
}

func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	var statusErr StatusClassifier
	if errors.As(err, &statusErr) {
		return classifyHTTPStatus(statusErr.HTTPStatus())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Decision{Class: ClassTransient, Reason: "net_timeout"}
		}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

func classifyHTTPStatus(status int) Decision {
	switch {
	case status == 429:
		return Decision{Class: ClassTransient, Reason: "http_rate_limited"}
	case status >= 500:
		return Decision{Class: ClassTransient, Reason: "http_server_error"}
	case status == 401 || status == 403:
		return Decision{Class: ClassTerminal, Reason: "http_auth_failure"}
	default:
		return Decision{Class: ClassTerminal, Reason: "http_client_error"}
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"too many requests",
	"rate limit",
	"server closed idle connection",
	"eof",
}

var terminalMessageTokens = []string{
	"malformed query",
	"invalid query",
	"syntax error",
	"unknown field",
	"unknown argument",
	"auth",
	"unauthorized",
	"forbidden",
	"parse error",
	"schema",
}
