package narrative

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/starsorter/narrative-cache/logger"
)

// Generator turns a system and a user prompt into narrative text.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

const (
	DefaultModel       = openai.GPT4o
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

// OpenAIConfig configures an OpenAIGenerator.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds a single completion. Zero means 30s.
	Timeout time.Duration
}

// OpenAIGenerator generates narratives with the chat completions API.
type OpenAIGenerator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     logger.Logger
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator returns a generator for cfg. A missing API key is not an
// error here; every Generate call then fails with ErrGeneration.
func NewOpenAIGenerator(cfg OpenAIConfig, log logger.Logger) *OpenAIGenerator {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	g := &OpenAIGenerator{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     logger.WithComponent(log, "openai"),
	}
	if cfg.APIKey != "" {
		g.client = openai.NewClientWithConfig(clientConfig)
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.timeout <= 0 {
		g.timeout = 30 * time.Second
	}
	return g
}

// Generate runs one chat completion.
func (g *OpenAIGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.client == nil {
		return "", errors.Mark(errors.New("no OpenAI API key configured"), ErrGeneration)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.Mark(errors.New("empty completion"), ErrGeneration)
	}
	g.log.Debug("generated narrative with %s in %s (%d tokens)", g.model, time.Since(started), resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

// classify marks a client error: a rejected request is the input's fault,
// anything else is the generator's.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusBadRequest {
		return errors.Mark(errors.Wrap(err, "completion request rejected"), ErrValidation)
	}
	return errors.Mark(errors.Wrap(err, "completion request failed"), ErrGeneration)
}
