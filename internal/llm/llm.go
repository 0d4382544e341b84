// Package llm adapts hosted text generation APIs to a single Provider
// interface and classifies their errors for fallback decisions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request is a single prompt sent to a provider.
type Request struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Provider generates text for a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Error wraps a provider failure. Retryable is set for rate limit and quota
// exhaustion, where another provider may still succeed.
type Error struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a provider error classified as rate
// limit or quota exhaustion.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// retryablePhrases catch rate limit errors that arrive without a
// structured status, such as from proxies or wrapped transports.
var retryablePhrases = []string{
	"quota",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"resource_exhausted",
	"resource exhausted",
}

func messageRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
