package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docqa/internal/config"
)

// ErrService marks failures of the external generation service.
var ErrService = errors.New("generation service error")

// Client is the generation gateway: whole-response and streaming calls
// against one configured language model.
type Client struct {
	model     llms.Model
	modelName string
	baseURL   string
	http      *http.Client
}

// NewOllamaClient builds a client against an Ollama server.
func NewOllamaClient(cfg *config.LLMConfig) (*Client, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init ollama client: %w", err)
	}
	return &Client{
		model:     llm,
		modelName: cfg.Model,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		http:      &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// NewOpenAIClient builds a client against an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg *config.LLMConfig) (*Client, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init openai client: %w", err)
	}
	return &Client{
		model:     llm,
		modelName: cfg.Model,
		http:      &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// NewClient wraps an existing model, mostly for tests.
func NewClient(model llms.Model, modelName string) *Client {
	return &Client{model: model, modelName: modelName, http: http.DefaultClient}
}

// Generate returns the complete answer for a prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	answer, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrService, err)
	}
	return answer, nil
}

// Stream carries incremental generation output. Fragments is closed when
// the answer is complete or the consumer's context is cancelled; Err is
// valid once Fragments is closed.
type Stream struct {
	fragments chan string
	done      chan struct{}
	err       error
}

// Fragments yields answer fragments in emission order. Concatenated, the
// fragments equal the complete answer.
func (s *Stream) Fragments() <-chan string {
	return s.fragments
}

// Err reports the terminal generation error, if any. Blocks until the
// stream has finished. Consumer-side cancellation is not an error.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// GenerateStream starts a streaming generation. The consumer stops early
// by cancelling ctx; the streaming callback observes the cancellation on
// its next fragment and aborts the underlying service call.
func (c *Client) GenerateStream(ctx context.Context, prompt string) *Stream {
	s := &Stream{
		fragments: make(chan string),
		done:      make(chan struct{}),
	}
	go func() {
		_, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				select {
				case s.fragments <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}))
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			s.err = fmt.Errorf("%w: %v", ErrService, err)
		}
		close(s.fragments)
		close(s.done)
	}()
	return s
}

// Available reports whether the configured model is present on the Ollama
// server. Only meaningful for Ollama-backed clients.
func (c *Client) Available(ctx context.Context) (bool, error) {
	if c.baseURL == "" {
		return false, fmt.Errorf("%w: no base URL to probe", ErrService)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrService, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: status %d from model list", ErrService, resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, fmt.Errorf("%w: %v", ErrService, err)
	}
	for _, m := range tags.Models {
		if m.Name == c.modelName || strings.TrimSuffix(m.Name, ":latest") == c.modelName {
			return true, nil
		}
	}
	log.Debug().Str("model", c.modelName).Msg("Model not present on server")
	return false, nil
}
