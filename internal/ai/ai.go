package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"mspro-labs/koredoko/internal/metrics"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("AI returned empty response")

// Image is an inline image handed to a vision model.
type Image struct {
	MIMEType string
	Data     []byte
}

// Options tunes the generative model.
type Options struct {
	APIKey            string
	Model             string
	Temperature       float32
	RequestsPerMinute int           // 0 disables throttling
	Timeout           time.Duration // per call; 0 means caller's deadline only
}

// Client wraps the GenAI client.
type Client struct {
	genaiClient *genai.Client
	model       *genai.GenerativeModel
	limiter     *rate.Limiter
	timeout     time.Duration
}

// NewClient creates a connected AI client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	c, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}

	model := c.GenerativeModel(opts.Model)
	if opts.Temperature > 0 {
		model.SetTemperature(opts.Temperature)
	}

	return &Client{
		genaiClient: c,
		model:       model,
		limiter:     newLimiter(opts.RequestsPerMinute),
		timeout:     opts.Timeout,
	}, nil
}

// Close terminates the connection.
func (c *Client) Close() {
	if c.genaiClient != nil {
		c.genaiClient.Close()
	}
}

// Generate sends the prompt plus any images and returns the model's text.
func (c *Client) Generate(ctx context.Context, prompt string, images ...Image) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	operation := "text"
	if len(images) > 0 {
		operation = "vision"
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, buildParts(prompt, images)...)
	if err != nil {
		metrics.ObserveModel(operation, start, err)
		return "", fmt.Errorf("generate content: %w", err)
	}

	text, err := ResponseText(resp)
	metrics.ObserveModel(operation, start, err)
	return text, err
}

// ResponseText concatenates the text parts of the first candidate.
func ResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

func buildParts(prompt string, images []Image) []genai.Part {
	parts := make([]genai.Part, 0, len(images)+1)
	parts = append(parts, genai.Text(prompt))
	for _, img := range images {
		parts = append(parts, genai.Blob{MIMEType: img.MIMEType, Data: img.Data})
	}
	return parts
}

// newLimiter spaces calls evenly; rate.Inf when rpm is unset.
func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}
