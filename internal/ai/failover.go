package ai

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Provider is one entry of the ordered failover list. Callers supply
// providers pre-sorted by ascending priority.
type Provider struct {
	Kind     string
	APIKey   string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// Result is a successful completion, the provider that produced it,
// and any failed attempts that preceded it.
type Result struct {
	Content  string
	Provider string
	Model    string
	Tried    []Attempt
}

// Attempt records one failed provider try for diagnostics.
type Attempt struct {
	Provider string
	Model    string
	Code     string
	Message  string
}

// FailoverError carries the per-provider failure list after all
// providers are exhausted.
type FailoverError struct {
	Tried []Attempt
}

func (e *FailoverError) Error() string {
	parts := make([]string, 0, len(e.Tried))
	for _, a := range e.Tried {
		parts = append(parts, fmt.Sprintf("%s/%s: %s (%s)", a.Provider, a.Model, a.Message, a.Code))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// caller issues a single chat-completion request against one provider.
type caller func(ctx context.Context, provider Provider, messages []Message) (string, error)

// Client tries providers in order until one succeeds.
type Client struct {
	callers map[string]caller
}

// NewClient returns a failover client with the supported provider kinds
// registered.
func NewClient() *Client {
	return &Client{
		callers: map[string]caller{
			"openai":    callOpenAI,
			"anthropic": callAnthropic,
		},
	}
}

const defaultProviderTimeout = 30 * time.Second

// ChatWithFailover iterates the providers in the given order, one
// attempt each with a per-provider timeout, returning the first
// success. On exhaustion it returns a FailoverError listing every
// failure. There is no retry within a provider and no circuit breaking
// across calls.
func (c *Client) ChatWithFailover(ctx context.Context, providers []Provider, messages []Message) (*Result, error) {
	if len(providers) == 0 {
		return nil, &FailoverError{}
	}

	var tried []Attempt
	for _, provider := range providers {
		call, ok := c.callers[provider.Kind]
		if !ok {
			tried = append(tried, Attempt{
				Provider: provider.Kind,
				Model:    provider.Model,
				Code:     "unsupported_kind",
				Message:  fmt.Sprintf("unknown provider kind %q", provider.Kind),
			})
			continue
		}

		timeout := provider.Timeout
		if timeout <= 0 {
			timeout = defaultProviderTimeout
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		content, err := call(callCtx, provider, messages)
		cancel()

		if err == nil && strings.TrimSpace(content) != "" {
			return &Result{Content: content, Provider: provider.Kind, Model: provider.Model, Tried: tried}, nil
		}
		if err == nil {
			err = errors.New("empty completion")
		}

		attempt := Attempt{
			Provider: provider.Kind,
			Model:    provider.Model,
			Code:     errorCode(err),
			Message:  err.Error(),
		}
		tried = append(tried, attempt)
		logrus.WithFields(logrus.Fields{
			"provider": attempt.Provider,
			"model":    attempt.Model,
			"code":     attempt.Code,
		}).Warnf("AI provider failed: %v", err)
	}

	return nil, &FailoverError{Tried: tried}
}

func errorCode(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if status, ok := statusCode(err); ok {
		return "http_" + strconv.Itoa(status)
	}
	return "request_failed"
}
