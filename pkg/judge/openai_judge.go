package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kaptinlin/jsonrepair"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/graphmend/graphmend/pkg/config"
	"github.com/graphmend/graphmend/pkg/types"
)

const judgeSystemPrompt = `You decide whether two knowledge-graph entities refer to the same real-world thing.
Consider names, properties, and relationship context. Similar names alone are not enough:
"Marshal" and "High Marshal Helbrecht" are different entities even though the names overlap.
Respond with JSON only: {"is_duplicate": bool, "confidence": float between 0 and 1, "rationale": string}`

// OpenAIJudge asks a chat model whether a candidate pair is a duplicate.
// Responses are parsed leniently: malformed JSON is repaired before decode.
type OpenAIJudge struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker
	logger      *slog.Logger
}

// NewOpenAIJudge creates an LLM-backed judge from configuration.
func NewOpenAIJudge(cfg config.JudgeConfig, breakerCfg config.CircuitBreakerConfig, logger *slog.Logger) (*OpenAIJudge, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("judge api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	j := &OpenAIJudge{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
	if breakerCfg.Enabled {
		j.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "judge",
			MaxRequests: breakerCfg.MaxRequests,
			Interval:    time.Duration(breakerCfg.Interval) * time.Second,
			Timeout:     time.Duration(breakerCfg.Timeout) * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < 3 {
					return false
				}
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= breakerCfg.ReadyToTripRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					"breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return j, nil
}

func (j *OpenAIJudge) Judge(ctx context.Context, a, b *types.Entity) (*Verdict, error) {
	prompt := j.buildPrompt(a, b)

	call := func() (*Verdict, error) {
		ctx, cancel := context.WithTimeout(ctx, j.timeout)
		defer cancel()

		resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       j.model,
			Temperature: j.temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: judgeSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("empty completion response")
		}
		return parseVerdict(resp.Choices[0].Message.Content)
	}

	var verdict *Verdict
	attempt := func() error {
		if j.breaker == nil {
			v, err := call()
			verdict = v
			return err
		}
		value, err := j.breaker.Execute(func() (any, error) { return call() })
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		verdict = value.(*Verdict)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	err := backoff.RetryNotify(attempt, policy, func(err error, wait time.Duration) {
		j.logger.Debug("retrying judge call", "wait", wait, "error", err)
	})
	if err != nil {
		return nil, &types.ExternalServiceError{Service: "judge", Err: err}
	}
	return verdict, nil
}

func (j *OpenAIJudge) buildPrompt(a, b *types.Entity) string {
	propsA, _ := json.Marshal(a.Properties)
	propsB, _ := json.Marshal(b.Properties)
	return fmt.Sprintf(
		"Entity A (label %s): %s\nProperties: %s\n\nEntity B (label %s): %s\nProperties: %s\n\nAre A and B the same entity?",
		a.Label, a.Name(), propsA, b.Label, b.Name(), propsB)
}

// parseVerdict decodes the model's JSON answer, repairing it first when the
// model wrapped it in prose or emitted slightly broken JSON.
func parseVerdict(content string) (*Verdict, error) {
	var verdict Verdict
	if err := json.Unmarshal([]byte(content), &verdict); err == nil {
		return &verdict, nil
	}
	repaired, err := jsonrepair.JSONRepair(content)
	if err != nil {
		return nil, fmt.Errorf("unparseable judge response: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &verdict); err != nil {
		return nil, fmt.Errorf("invalid judge response after repair: %w", err)
	}
	return &verdict, nil
}

func (j *OpenAIJudge) Close() error { return nil }

var _ SimilarityJudge = (*OpenAIJudge)(nil)
