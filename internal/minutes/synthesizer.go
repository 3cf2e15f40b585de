package minutes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/resilience"
)

const systemPrompt = "You write accurate, well structured meeting minutes in Markdown."

// Synthesizer generates text for a prompt
type Synthesizer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAISynthesizer calls an OpenAI-compatible chat completions endpoint
type OpenAISynthesizer struct {
	client      oai.Client
	model       string
	temperature float64
	retry       *resilience.RetryConfig
}

// config holds optional configuration for the synthesizer
type config struct {
	baseURL     string
	timeout     time.Duration
	temperature float64
	retry       *resilience.RetryConfig
}

// Option is a functional option for OpenAISynthesizer
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible endpoint
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float64) Option {
	return func(c *config) {
		c.temperature = t
	}
}

// WithRetry overrides the retry policy
func WithRetry(r *resilience.RetryConfig) Option {
	return func(c *config) {
		c.retry = r
	}
}

// NewOpenAISynthesizer constructs a synthesizer for model
func NewOpenAISynthesizer(apiKey, model string, opts ...Option) (*OpenAISynthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("minutes: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("minutes: model must not be empty")
	}

	cfg := &config{retry: resilience.DefaultRetryConfig()}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are handled by resilience.Retry
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &OpenAISynthesizer{
		client:      oai.NewClient(reqOpts...),
		model:       model,
		temperature: cfg.temperature,
		retry:       cfg.retry,
	}, nil
}

// Complete implements Synthesizer
func (s *OpenAISynthesizer) Complete(ctx context.Context, prompt string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(prompt),
		},
	}
	if s.temperature != 0 {
		params.Temperature = param.NewOpt(s.temperature)
	}

	var content string
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		resp, err := s.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty choices in response")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}, s.retry, resilience.IsRetryable)
	if err != nil {
		return "", fmt.Errorf("minutes: chat completion: %w", err)
	}
	return content, nil
}

// classify marks rate limits, server errors and network failures as retryable
func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return resilience.NewRetryableError(err)
		}
		return err
	}
	if resilience.IsRetryableNetworkError(err) {
		return resilience.NewRetryableError(err)
	}
	return err
}
