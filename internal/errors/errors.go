// Package errors classifies failures from LLM providers, tool executions and
// history checks so callers can decide whether another attempt is worthwhile.
package errors

import (
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
)

// ErrorType categorizes errors for retry decisions
type ErrorType string

const (
	// ErrorTypeRetryable means a later attempt may succeed (overload, rate limit, network).
	ErrorTypeRetryable ErrorType = "retryable"
	// ErrorTypePermanent means repeating the call is pointless (auth, bad request, invalid history).
	ErrorTypePermanent ErrorType = "permanent"
	// ErrorTypePanic marks a recovered panic inside a tool.
	ErrorTypePanic ErrorType = "panic"
)

// RetryableError wraps a failure that may clear up on its own.
type RetryableError struct {
	Err  error
	Kind string
}

func (e *RetryableError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("[retryable:%s] %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("[retryable] %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// PermanentError wraps a failure that will repeat on every attempt.
// Kind is a short tag such as "history", "auth" or "tool".
type PermanentError struct {
	Err  error
	Kind string
}

func (e *PermanentError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("[permanent:%s] %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("[permanent] %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps an error as retryable
func NewRetryableError(err error, kind string) error {
	return &RetryableError{Err: err, Kind: kind}
}

// NewPermanentError wraps an error as permanent
func NewPermanentError(err error, kind string) error {
	return &PermanentError{Err: err, Kind: kind}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return err != nil && GetErrorType(err) == ErrorTypeRetryable
}

// IsPermanent reports whether err will recur on retry.
func IsPermanent(err error) bool {
	return err != nil && GetErrorType(err) == ErrorTypePermanent
}

// KindOf returns the Kind tag of the outermost typed error, or "".
func KindOf(err error) string {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

var retryablePatterns = []string{
	// network
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporary failure",
	"network is unreachable",
	"unexpected eof",
	// provider load
	"rate limit",
	"rate_limit_error",
	"too many requests",
	"overloaded",
	"service unavailable",
	"internal server error",
	"try again",
}

var permanentPatterns = []string{
	// request shape
	"invalid_request_error",
	"bad request",
	"roles must alternate",
	"tool_use_id",
	"invalid history",
	// credentials
	"authentication_error",
	"permission_error",
	"invalid api key",
	"unauthorized",
	"forbidden",
	// lookups
	"not_found_error",
	"not found",
	"no such file or directory",
	"permission denied",
	// logic errors
	"panic:",
	"runtime error",
	"nil pointer",
}

// Status codes only count as whole numbers, so "4000 tokens" is not a 400.
var statusCodeRe = regexp.MustCompile(`\b[45]\d\d\b`)

var (
	retryableStatus = map[int]bool{408: true, 429: true, 500: true, 502: true, 503: true, 504: true, 529: true}
	permanentStatus = map[int]bool{400: true, 401: true, 403: true, 404: true, 422: true}
)

// StatusCodes returns the 4xx and 5xx numbers that appear as whole words in msg.
func StatusCodes(msg string) []int {
	var codes []int
	for _, m := range statusCodeRe.FindAllString(msg, -1) {
		code, _ := strconv.Atoi(m)
		codes = append(codes, code)
	}
	return codes
}

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

func classifyStatus(code int) (ErrorType, bool) {
	switch {
	case permanentStatus[code]:
		return ErrorTypePermanent, true
	case retryableStatus[code]:
		return ErrorTypeRetryable, true
	}
	return "", false
}

// ClassifyError inspects the error text. Permanent patterns win over
// retryable ones because provider messages often echo both (for example a
// 400 body that mentions a timeout field). A typed HTTP status is checked
// first. Unknown errors are retryable.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if t, ok := classifyStatus(sc.HTTPStatus()); ok {
			return t
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return ErrorTypePermanent
		}
	}
	for _, code := range StatusCodes(msg) {
		if permanentStatus[code] {
			return ErrorTypePermanent
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return ErrorTypeRetryable
		}
	}
	return ErrorTypeRetryable
}

// ClassifyErrorWithExitCode classifies a failed subprocess (CLI providers,
// run_command) by its exit status, falling back to the message.
func ClassifyErrorWithExitCode(err error, exitCode int) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	switch exitCode {
	case 0:
		return ErrorTypePermanent
	case 2, 126, 127:
		// shell misuse, not executable, not found
		return ErrorTypePermanent
	case 130, 137, 143:
		// interrupted or killed
		return ErrorTypeRetryable
	default:
		return ClassifyError(err)
	}
}

// GetErrorType prefers an explicit wrapper over message classification.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return ErrorTypePermanent
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return ErrorTypeRetryable
	}
	return ClassifyError(err)
}

// RecoveryResult holds the result of a recovered panic
type RecoveryResult struct {
	Recovered  bool
	PanicValue interface{}
	ErrorMsg   string
	ErrorType  ErrorType
	StackTrace string
}

// Err converts the recovery into an error, nil when nothing was recovered.
func (r RecoveryResult) Err() error {
	if !r.Recovered {
		return nil
	}
	return &PermanentError{Err: errors.New(r.ErrorMsg), Kind: string(ErrorTypePanic)}
}

// RecoverPanic turns a recover() value into a RecoveryResult.
//
//	defer func() {
//	    if r := errors.RecoverPanic(recover()); r.Recovered {
//	        err = r.Err()
//	    }
//	}()
func RecoverPanic(r interface{}) RecoveryResult {
	if r == nil {
		return RecoveryResult{Recovered: false}
	}

	result := RecoveryResult{
		Recovered:  true,
		PanicValue: r,
		ErrorType:  ErrorTypePanic,
		StackTrace: string(debug.Stack()),
	}

	switch v := r.(type) {
	case error:
		result.ErrorMsg = fmt.Sprintf("panic: %v", v)
	case string:
		result.ErrorMsg = fmt.Sprintf("panic: %s", v)
	default:
		result.ErrorMsg = fmt.Sprintf("panic: %+v", v)
	}

	return result
}

// CalculateBackoff returns baseDelay * 2^retryCount capped at maxDelay.
func CalculateBackoff(baseDelay time.Duration, retryCount int, maxDelay time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		retryCount = 30
	}

	delay := baseDelay * (1 << retryCount)
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}
