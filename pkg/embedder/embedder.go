// Package embedder produces text embeddings for retrieval and entity
// resolution. The OpenAI implementation guards every call with a circuit
// breaker and a bounded exponential backoff.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/graphmend/graphmend/pkg/config"
	"github.com/graphmend/graphmend/pkg/types"
)

// Client generates embeddings for texts.
type Client interface {
	// Embed returns one embedding per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedSingle embeds one text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the embedding dimensionality.
	Dimensions() int
	Close() error
}

// OpenAIEmbedder implements Client using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewOpenAIEmbedder creates an embedder from configuration.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig, breakerCfg config.CircuitBreakerConfig, logger *slog.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	e := &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    cfg.Timeout,
		logger:     logger,
	}
	if breakerCfg.Enabled {
		e.breaker = newBreaker("embedder", breakerCfg, logger)
	}
	return e, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	call := func() ([][]float32, error) {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input:      texts,
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: e.dimensions,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
		}
		out := make([][]float32, len(resp.Data))
		for _, d := range resp.Data {
			out[d.Index] = d.Embedding
		}
		return out, nil
	}

	result, err := executeWithRetry(ctx, e.breaker, e.logger, "embed", call)
	if err != nil {
		return nil, &types.ExternalServiceError{Service: "embedder", Err: err}
	}
	return result, nil
}

func (e *OpenAIEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

func (e *OpenAIEmbedder) Close() error { return nil }

// newBreaker builds a circuit breaker for an external service client.
func newBreaker(name string, cfg config.CircuitBreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.ReadyToTripRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// executeWithRetry runs call through the breaker (when configured) and
// retries a failure once with backoff. The breaker's open state is not
// retried.
func executeWithRetry[T any](ctx context.Context, breaker *gobreaker.CircuitBreaker, logger *slog.Logger, op string, call func() (T, error)) (T, error) {
	var result T

	attempt := func() error {
		if breaker == nil {
			var err error
			result, err = call()
			return err
		}
		value, err := breaker.Execute(func() (any, error) { return call() })
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		result = value.(T)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	err := backoff.RetryNotify(attempt, policy, func(err error, wait time.Duration) {
		logger.Debug("retrying external call", "op", op, "wait", wait, "error", err)
	})
	return result, err
}
