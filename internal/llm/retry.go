package llm

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	perrors "github.com/HexSleeves/parley/internal/errors"
)

// retryBaseDelay is the first backoff step; tests shrink it.
var retryBaseDelay = time.Second

const retryMaxDelay = 30 * time.Second

var retryableCodes = []int{429, 500, 502, 503, 529}

// IsRetryableError checks if an LLM API error is worth retrying.
// It covers common transient failures: network errors, rate limits,
// server errors, and provider-specific overload conditions.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var permanent *perrors.PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	var retryable *perrors.RetryableError
	if errors.As(err, &retryable) {
		return true
	}

	// Typed status codes first
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return isRetryableStatus(apiErr.StatusCode)
	}
	var sdkErr *anthropic.Error
	if errors.As(err, &sdkErr) {
		return isRetryableStatus(sdkErr.StatusCode)
	}

	// Standard io errors
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection reset",
		"connection refused",
		"i/o timeout",
		"no such host",
		"overloaded_error",
		"server_error",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Match patterns like "status 429", "status: 429", "429 too many", "http 503"
	for _, code := range perrors.StatusCodes(msg) {
		if isRetryableStatus(code) {
			return true
		}
	}

	return false
}

func isRetryableStatus(code int) bool {
	for _, c := range retryableCodes {
		if c == code {
			return true
		}
	}
	return false
}

// RetryLLMCall calls fn, then retries it up to maxRetries more times while
// the error is retryable, sleeping 1s, 2s, 4s and so on (capped at 30s)
// between attempts. A cancelled ctx ends the wait and returns ctx.Err().
func RetryLLMCall(ctx context.Context, maxRetries int, logger *log.Logger, fn func() (*Response, error)) (*Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		if attempt >= maxRetries || !IsRetryableError(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		backoff := perrors.CalculateBackoff(retryBaseDelay, attempt, retryMaxDelay)
		if logger != nil {
			logger.Printf("⚠ LLM call failed: %v, retrying in %v (attempt %d/%d)", err, backoff, attempt+1, maxRetries)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}
