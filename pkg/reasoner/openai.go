package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
	"arbiter-hq/themis/pkg/vecstore"
)

// OpenAIReasoner calls an OpenAI-compatible chat API with the json_object
// response format. Transient failures are retried with exponential backoff;
// sustained failures open a circuit breaker so evaluations fall back fast
// instead of queueing behind a dead endpoint.
type OpenAIReasoner struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	maxRetries  int
	breaker     *gobreaker.CircuitBreaker
	logger      *slog.Logger
}

// NewOpenAIReasoner creates a reasoner for the configured chat endpoint.
func NewOpenAIReasoner(cfg config.ReasonerConfig) (*OpenAIReasoner, error) {
	if cfg.APIKey == "" {
		return nil, compliance.NewInputError("reasoner.api_key", "required for the openai provider")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	logger := slog.Default().With("component", "reasoner.openai")

	settings := gobreaker.Settings{
		Name:    "reasoner",
		Timeout: cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.Breaker.MaxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &OpenAIReasoner{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		breaker:     gobreaker.NewCircuitBreaker(settings),
		logger:      logger,
	}, nil
}

// Synthesize evaluates a transaction against the retrieved evidence.
func (r *OpenAIReasoner) Synthesize(ctx context.Context, tx *compliance.Transaction, policies []vecstore.ChunkHit, cases []vecstore.CaseHit) (*Synthesis, error) {
	content, err := r.complete(ctx, BuildEvaluationPrompt(tx, policies, cases))
	if err != nil {
		return nil, err
	}
	return parseSynthesis(content)
}

// Answer responds to a compliance question over the retrieved policy context.
func (r *OpenAIReasoner) Answer(ctx context.Context, question string, policies []vecstore.ChunkHit) (*Answer, error) {
	content, err := r.complete(ctx, BuildAnswerPrompt(question, policies))
	if err != nil {
		return nil, err
	}
	return parseAnswer(content)
}

// complete runs one chat completion with breaker and retry protection. The
// call is bounded by the configured timeout regardless of retries.
func (r *OpenAIReasoner) complete(ctx context.Context, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var content string
	operation := func() error {
		result, err := r.breaker.Execute(func() (interface{}, error) {
			return r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       r.model,
				Temperature: r.temperature,
				MaxTokens:   r.maxTokens,
				ResponseFormat: &openai.ChatCompletionResponseFormat{
					Type: openai.ChatCompletionResponseFormatTypeJSONObject,
				},
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
			})
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}

		resp := result.(openai.ChatCompletionResponse)
		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("response contained no choices"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(r.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		reason := "request"
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			reason = "circuit_open"
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		}
		r.logger.Warn("reasoning call failed", "reason", reason, "error", err)
		return "", compliance.NewSynthesisUnavailableError(reason, err)
	}

	return content, nil
}

// synthesisPayload mirrors the JSON contract the model is instructed to
// produce.
type synthesisPayload struct {
	Verdict    string  `json:"verdict"`
	RiskLevel  string  `json:"risk_level"`
	RiskScore  float64 `json:"risk_score"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// parseSynthesis validates raw model output against the response contract.
// Every field must parse cleanly; a response that fails here is reported as
// unavailable and the caller falls back, fields are never guessed at.
func parseSynthesis(content string) (*Synthesis, error) {
	var p synthesisPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, compliance.NewSynthesisUnavailableError("parse", err)
	}

	verdict := compliance.Verdict(strings.ToUpper(strings.TrimSpace(p.Verdict)))
	if !compliance.ValidVerdict(verdict) {
		return nil, compliance.NewSynthesisUnavailableError("parse",
			fmt.Errorf("unknown verdict %q", p.Verdict))
	}

	tier, ok := parseTier(p.RiskLevel)
	if !ok {
		return nil, compliance.NewSynthesisUnavailableError("parse",
			fmt.Errorf("unknown risk level %q", p.RiskLevel))
	}

	reasoning := strings.TrimSpace(p.Reasoning)
	if reasoning == "" {
		return nil, compliance.NewSynthesisUnavailableError("parse",
			errors.New("empty reasoning"))
	}

	return &Synthesis{
		Verdict:    verdict,
		RiskTier:   tier,
		RiskScore:  clamp01(p.RiskScore),
		Reasoning:  reasoning,
		Confidence: clamp01(p.Confidence),
	}, nil
}

// answerPayload mirrors the JSON contract for question answering.
type answerPayload struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

func parseAnswer(content string) (*Answer, error) {
	var p answerPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, compliance.NewSynthesisUnavailableError("parse", err)
	}

	text := strings.TrimSpace(p.Answer)
	if text == "" {
		return nil, compliance.NewSynthesisUnavailableError("parse",
			errors.New("empty answer"))
	}

	return &Answer{
		Text:       text,
		Confidence: clamp01(p.Confidence),
	}, nil
}

func parseTier(s string) (compliance.RiskTier, bool) {
	switch tier := compliance.RiskTier(strings.ToUpper(strings.TrimSpace(s))); tier {
	case compliance.TierHigh, compliance.TierMedium, compliance.TierLow:
		return tier, true
	default:
		return "", false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
