package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/sashabaranov/go-openai"

	"github.com/menta2k/insect-identifier/pkg/identify"
	"github.com/menta2k/insect-identifier/pkg/processing"
	"github.com/menta2k/insect-identifier/pkg/types"
)

const (
	// DefaultModel is used when the configuration leaves the model empty
	DefaultModel = "gpt-4o"
	// DefaultBaseURL is the chat completions API root
	DefaultBaseURL = "https://api.openai.com/v1"
)

// Config holds the settings for the OpenAI vision client
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	Processing types.ProcessingOptions
	// HTTPClient overrides the transport, mainly for tests
	HTTPClient *http.Client
}

// Client identifies insects through the chat completions endpoint
type Client struct {
	api       *openai.Client
	model     string
	processor *processing.Processor
	opts      types.ProcessingOptions
}

// NewClient creates a new OpenAI vision client. The API key is required.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		httpClient = &copied
	}
	httpClient.Transport = statusGuard{base: httpClient.Transport}
	apiCfg.HTTPClient = httpClient

	opts := cfg.Processing
	if opts.Quality == 0 {
		opts.Quality = processing.DefaultModelQuality
	}

	return &Client{
		api:       openai.NewClientWithConfig(apiCfg),
		model:     cfg.Model,
		processor: processing.NewProcessor(),
		opts:      opts,
	}, nil
}

// Identify sends the image to the model and returns the validated result
func (c *Client) Identify(ctx context.Context, image []byte) (*types.AnalysisResult, error) {
	jpegData, mimeType, err := c.processor.PrepareBytesForModel(image, c.opts.MaxDimension, c.opts.Quality)
	if err != nil {
		return nil, identify.InvalidImage(err)
	}

	req := c.buildRequest(processing.DataURL(jpegData, mimeType))

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}

	log.WithFields(log.Fields{
		"model":             resp.Model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"duration":          time.Since(start).String(),
	}).Debug("openai: chat completion finished")

	if len(resp.Choices) == 0 {
		return nil, identify.InvalidResponse(errors.New("no choices in response"))
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, identify.InvalidResponse(errors.New("empty message content"))
	}

	return identify.ParseResult(content)
}

func (c *Client) buildRequest(imageURL string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: identify.SystemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: identify.UserPrompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: imageURL,
						},
					},
				},
			},
		},
		MaxTokens: identify.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
}

// classifyError maps go-openai failures onto identification error kinds
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return identify.APIError(apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return identify.APIError(reqErr.HTTPStatusCode, "", err)
	}

	var statusErr *unexpectedStatusError
	if errors.As(err, &statusErr) {
		return identify.APIError(statusErr.StatusCode, "", err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return identify.APIError(0, fmt.Sprintf("request failed: %v", urlErr.Err), err)
	}

	// A 2xx body that is not a completion envelope
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return identify.InvalidResponse(err)
	}

	return identify.APIError(0, fmt.Sprintf("request failed: %v", err), err)
}

// unexpectedStatusError is a 3xx response the HTTP client did not follow
type unexpectedStatusError struct {
	StatusCode int
}

func (e *unexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// statusGuard fails 3xx responses that will not be redirected. go-openai
// decodes anything below 400 as a completion.
type statusGuard struct {
	base http.RoundTripper
}

func (g statusGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	base := g.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 300 || resp.StatusCode >= 400 || followsRedirect(resp) {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return nil, &unexpectedStatusError{StatusCode: resp.StatusCode}
}

func followsRedirect(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return resp.Header.Get("Location") != ""
	}
	return false
}
