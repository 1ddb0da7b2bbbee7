// Package llm talks to a local text-generation endpoint (Ollama-compatible
// /api/generate) and exposes it through the resolver's Generator interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnavailable indicates the generation endpoint could not be reached
// or answered with a non-success status.
var ErrUnavailable = errors.New("llm: endpoint unavailable")

// Client generates completions over HTTP.
type Client struct {
	rest  *resty.Client
	model string
}

// New builds a client for the given base URL (e.g. http://localhost:11434)
// and model name.
func New(baseURL, model string) *Client {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)
	return &Client{rest: rest, model: model}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate sends a prompt and returns the raw completion text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var out generateResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(generateRequest{Model: c.model, Prompt: prompt, Stream: false}).
		SetResult(&out).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode(), resp.String())
	}
	return out.Response, nil
}
