// Package completion talks to the external text-completion service. The
// vendor stays opaque: the engine only depends on the structured-output
// contract, never on prose parsing.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

// Request carries one evaluator call: a role description, the shared fact
// context and the output schema the service must honor.
type Request struct {
	Role         string
	Facts        string
	OutputSchema string
	MaxTokens    int
}

// Client is the contract the council deliberates through.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// HTTPClient speaks an OpenAI-compatible chat completions API. A local token
// bucket paces requests so a burst of evaluators does not hammer the vendor;
// durable quota accounting stays with the rate limiter.
type HTTPClient struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	pacer   *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL, model, apiKey string, requestsPerSecond float64) *HTTPClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &HTTPClient{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{},
		pacer:   rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return "", err
	}

	system := req.Role
	if req.OutputSchema != "" {
		system = fmt.Sprintf("%s Respond with JSON only, no markdown. Schema: %s", req.Role, req.OutputSchema)
	}

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Facts},
		},
		MaxTokens: req.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion service returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
