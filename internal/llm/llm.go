// Package llm wraps language-model completion providers behind one interface,
// bounds every call with a timeout, and parses replies into insights.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/contextai/internal/aierr"
)

// DefaultTimeout bounds a completion call when none is configured.
const DefaultTimeout = 30 * time.Second

// Options tune one completion.
type Options struct {
	System      string
	Temperature float64
	MaxTokens   int
}

// Completer produces a text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// CompleteWithTimeout races c.Complete against a timer. Expiry yields an
// LLM_TIMEOUT error even if the provider ignores context cancellation; other
// failures are tagged LLM_FAILED.
func CompleteWithTimeout(ctx context.Context, c Completer, prompt string, timeout time.Duration, opts Options) (string, error) {
	if c == nil {
		return "", aierr.Wrap(aierr.KindLLMFailed, "complete", errors.New("no completion provider configured"))
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		text, err := c.Complete(ctx, prompt, opts)
		done <- reply{text, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return "", aierr.Wrap(aierr.KindLLMTimeout, "complete", r.err)
			}
			return "", aierr.Wrap(aierr.KindLLMFailed, "complete", r.err)
		}
		return r.text, nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return "", aierr.Wrap(aierr.KindLLMTimeout, "complete",
				fmt.Errorf("no reply after %s: %w", timeout, err))
		}
		return "", aierr.Wrap(aierr.KindLLMFailed, "complete", err)
	}
}

// Config selects and tunes the completion provider.
type Config struct {
	Provider    string        `mapstructure:"provider"` // openai | anthropic | none
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// Options returns the per-call options carried by the config.
func (c Config) Options() Options {
	return Options{Temperature: c.Temperature, MaxTokens: c.MaxTokens}
}

// NewFromConfig creates a completer. It returns nil when no provider is set.
func NewFromConfig(cfg Config) (Completer, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAICompleter(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "anthropic":
		return NewAnthropicCompleter(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
