package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	systemPrompt         = "You are a code similarity analyzer. Always respond with valid JSON only."
	maxBodyPreview       = 512
)

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("oracle http error %d: %s", e.Status, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *StatusError) Retryable() bool {
	return e.Status == http.StatusRequestTimeout ||
		e.Status == http.StatusTooManyRequests ||
		e.Status >= http.StatusInternalServerError
}

type OpenAIOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	Proxy       string
	Temperature float64
	HTTPClient  *http.Client
}

// OpenAIClient asks an OpenAI compatible chat completions endpoint for a JSON answer.
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("OpenAI model is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.Proxy != "" {
			proxyURL, err := url.Parse(opts.Proxy)
			if err != nil {
				return nil, fmt.Errorf("invalid OPENAI_PROXY: %w", err)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		httpClient = &http.Client{Transport: transport}
	}

	return &OpenAIClient{
		baseURL:     baseURL,
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		httpClient:  httpClient,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message and returns the message content.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	payload := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	if c.temperature != 0 {
		temperature := c.temperature
		payload.Temperature = &temperature
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Status: resp.StatusCode, Body: preview(body)}
	}

	// A 200 without usable content is an answer, not a transport fault: the
	// caller gets "" and decides how to treat it.
	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		log.Warn().Err(err).Str("body", preview(body)).Msg("OpenAI response is not a chat completion")
		return "", nil
	}
	if len(completion.Choices) == 0 {
		log.Warn().Str("body", preview(body)).Msg("OpenAI completion has no choices")
		return "", nil
	}

	choice := completion.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		log.Warn().
			Str("model", c.model).
			Str("finish_reason", choice.FinishReason).
			Str("refusal", choice.Message.Refusal).
			Msg("OpenAI completion returned no content")
		return "", nil
	}

	log.Trace().Str("model", c.model).Int("bytes", len(content)).Msg("OpenAI completion received")
	return content, nil
}

func preview(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= maxBodyPreview {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxBodyPreview {
		return s
	}
	return string(runes[:maxBodyPreview]) + "…"
}
