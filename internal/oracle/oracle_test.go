package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RishiKendai/codetrace/internal/config"
	"github.com/RishiKendai/codetrace/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const verdictJSON = `{"similarity_percent": 85, "is_suspicious": true, "reason": "same recursion"}`

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req["model"])
		assert.Equal(t, map[string]any{"type": "json_object"}, req["response_format"])
		_, hasTemperature := req["temperature"]
		assert.False(t, hasTemperature)

		messages := req["messages"].([]any)
		require.Len(t, messages, 2)
		assert.Equal(t, "compare these", messages[1].(map[string]any)["content"])

		resp := map[string]any{
			"choices": []any{map[string]any{
				"message":       map[string]any{"role": "assistant", "content": "  " + verdictJSON + "\n"},
				"finish_reason": "stop",
			}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIOptions{BaseURL: server.URL + "/", APIKey: "sk-test", Model: "gpt-test"})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "compare these")
	require.NoError(t, err)
	assert.Equal(t, verdictJSON, out)
}

func TestOpenAISendsTemperatureWhenSet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.InDelta(t, 0.2, req["temperature"], 1e-9)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{}"}}]}`)
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIOptions{BaseURL: server.URL, APIKey: "k", Model: "m", Temperature: 0.2})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "p")
	require.NoError(t, err)
}

func TestOpenAIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, retryable: true},
		{name: "server error", status: http.StatusInternalServerError, body: "oops", retryable: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"bad model"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client, err := NewOpenAIClient(OpenAIOptions{BaseURL: server.URL, APIKey: "k", Model: "m"})
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), "p")
			require.Error(t, err)

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.Status)
			assert.Equal(t, tt.retryable, statusErr.Retryable())
		})
	}
}

func TestOpenAIAnswersWithoutContent(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no choices", body: `{"choices":[]}`},
		{name: "refusal", body: `{"choices":[{"message":{"content":"","refusal":"no"},"finish_reason":"stop"}]}`},
		{name: "length cut off", body: `{"choices":[{"message":{"content":""},"finish_reason":"length"}]}`},
		{name: "not a completion", body: `<html>gateway</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client, err := NewOpenAIClient(OpenAIOptions{BaseURL: server.URL, APIKey: "k", Model: "m"})
			require.NoError(t, err)

			out, err := NewRetrying(client, retry.Policy{MaxAttempts: 3}).Complete(context.Background(), "p")
			require.NoError(t, err)
			assert.Empty(t, out)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestNewOpenAIClientValidation(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIOptions{Model: "m"})
	assert.Error(t, err)

	_, err = NewOpenAIClient(OpenAIOptions{APIKey: "k"})
	assert.Error(t, err)

	_, err = NewOpenAIClient(OpenAIOptions{APIKey: "k", Model: "m", Proxy: "://bad"})
	assert.Error(t, err)

	client, err := NewOpenAIClient(OpenAIOptions{APIKey: "k", Model: "m", Proxy: "http://proxy.internal:3128"})
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenAIBaseURL, client.baseURL)
}

func TestGeminiComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "gemini-test:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": verdictJSON}},
				},
				"finishReason": "STOP",
			}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client, err := NewGeminiClient(context.Background(), GeminiOptions{
		APIKey:     "g-test",
		Model:      "gemini-test",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "compare these")
	require.NoError(t, err)
	assert.Equal(t, verdictJSON, out)
}

func TestGeminiAnswerWithoutContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"candidates": []any{map[string]any{
				"content":      map[string]any{"role": "model", "parts": []any{}},
				"finishReason": "MAX_TOKENS",
			}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client, err := NewGeminiClient(context.Background(), GeminiOptions{
		APIKey:     "g-test",
		Model:      "gemini-test",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "compare these")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), GeminiOptions{})
	assert.Error(t, err)
}

type flakyClient struct {
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flakyClient) Complete(context.Context, string) (string, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return "", f.err
	}
	return verdictJSON, nil
}

var fastPolicy = retry.Policy{
	MaxAttempts:    3,
	AttemptTimeout: time.Second,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     time.Millisecond,
}

func TestRetryingRecovers(t *testing.T) {
	flaky := &flakyClient{failures: 2, err: &StatusError{Status: http.StatusServiceUnavailable}}

	out, err := NewRetrying(flaky, fastPolicy).Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, verdictJSON, out)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestRetryingGivesUp(t *testing.T) {
	flaky := &flakyClient{failures: 10, err: errors.New("connection reset")}

	_, err := NewRetrying(flaky, fastPolicy).Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestRetryingStopsOnPermanentStatus(t *testing.T) {
	flaky := &flakyClient{failures: 10, err: &StatusError{Status: http.StatusUnauthorized}}

	_, err := NewRetrying(flaky, fastPolicy).Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, int32(1), flaky.calls.Load())
}

func TestNew(t *testing.T) {
	cfg := &config.Config{
		OracleProvider:          config.ProviderOpenAI,
		OpenAIAPIKey:            "k",
		OpenAIModel:             "m",
		ExternalCallMaxAttempts: 2,
		ExternalCallTimeout:     5 * time.Second,
	}
	client, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, client.policy.MaxAttempts)
	assert.Equal(t, 5*time.Second, client.policy.AttemptTimeout)

	_, err = New(context.Background(), &config.Config{OracleProvider: "llama"})
	assert.Error(t, err)

	_, err = New(context.Background(), &config.Config{OracleProvider: config.ProviderOpenAI})
	assert.Error(t, err)
}
