package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/ollama/ollama/api"

	"github.com/menta2k/insect-identifier/pkg/identify"
	"github.com/menta2k/insect-identifier/pkg/processing"
	"github.com/menta2k/insect-identifier/pkg/types"
)

const (
	// DefaultURL is where a local Ollama server listens
	DefaultURL = "http://localhost:11434"
	// DefaultModel is a small vision model that follows JSON instructions well
	DefaultModel = "llava:13b"
	// defaultTimeout applies when the caller's context has no deadline;
	// vision models on CPU are slow
	defaultTimeout = 300 * time.Second
)

// Config holds the settings for the Ollama vision client
type Config struct {
	URL        string
	Model      string
	Processing types.ProcessingOptions
	HTTPClient *http.Client
}

// Client wraps the Ollama API client
type Client struct {
	client    *api.Client
	model     string
	processor *processing.Processor
	opts      types.ProcessingOptions
}

// NewClient creates a new Ollama client
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q needs a scheme and host", cfg.URL)
	}

	// Keep only scheme and host, so both http://host:11434 and
	// http://host:11434/api/chat work
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	opts := cfg.Processing
	if opts.Quality == 0 {
		opts.Quality = processing.DefaultModelQuality
	}

	return &Client{
		client:    api.NewClient(baseURL, httpClient),
		model:     cfg.Model,
		processor: processing.NewProcessor(),
		opts:      opts,
	}, nil
}

// Identify sends the image to the model and returns the validated result
func (c *Client) Identify(ctx context.Context, image []byte) (*types.AnalysisResult, error) {
	jpegData, _, err := c.processor.PrepareBytesForModel(image, c.opts.MaxDimension, c.opts.Quality)
	if err != nil {
		return nil, identify.InvalidImage(err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "system",
				Content: identify.SystemPrompt,
			},
			{
				Role:    "user",
				Content: identify.UserPrompt,
				Images:  []api.ImageData{api.ImageData(jpegData)},
			},
		},
		Stream:  &streamFalse,
		Format:  json.RawMessage(`"json"`),
		Options: modelOptions(c.model),
	}

	start := time.Now()
	var content strings.Builder
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, classifyError(err)
	}

	log.WithFields(log.Fields{
		"model":    c.model,
		"duration": time.Since(start).String(),
	}).Debug("ollama: chat finished")

	if strings.TrimSpace(content.String()) == "" {
		return nil, identify.InvalidResponse(errors.New("empty response from ollama"))
	}

	return identify.ParseResult(content.String())
}

// modelOptions sets sampling parameters per model family
func modelOptions(model string) map[string]any {
	options := map[string]any{
		"num_predict": identify.MaxTokens,
	}

	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["temperature"] = 0.7
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}
	return options
}

// classifyError maps Ollama client failures onto identification error kinds
func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return identify.APIError(statusErr.StatusCode, statusErr.ErrorMessage, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return identify.APIError(0, fmt.Sprintf("request failed: %v", err), err)
	}

	// Anything else came from reading a successful response
	return identify.InvalidResponse(err)
}
