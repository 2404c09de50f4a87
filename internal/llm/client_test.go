package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiServer(t *testing.T, reply string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			*capture = body
		}
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": reply}}}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestGeminiCompleteWithSystem(t *testing.T) {
	var captured map[string]any
	srv := geminiServer(t, "generated text", &captured)
	defer srv.Close()

	cfg := DefaultGeminiConfig("test-key")
	cfg.BaseURL = srv.URL
	cfg.Timeout = 5 * time.Second
	client := NewGeminiClientWithConfig(cfg)

	out, err := client.CompleteWithSystem(context.Background(), "you are terse", "say hi")
	require.NoError(t, err)
	assert.Equal(t, "generated text", out)

	require.NotNil(t, captured["systemInstruction"], "system prompt must be sent as systemInstruction")
	contents := captured["contents"].([]any)
	require.Len(t, contents, 1)
}

func TestGeminiCompleteOmitsEmptySystemInstruction(t *testing.T) {
	var captured map[string]any
	srv := geminiServer(t, "hi", &captured)
	defer srv.Close()

	cfg := DefaultGeminiConfig("test-key")
	cfg.BaseURL = srv.URL
	client := NewGeminiClientWithConfig(cfg)

	_, err := client.Complete(context.Background(), "say hi")
	require.NoError(t, err)
	assert.Nil(t, captured["systemInstruction"])
}

func TestGeminiMissingAPIKey(t *testing.T) {
	client := NewGeminiClientWithConfig(GeminiConfig{BaseURL: "http://127.0.0.1:0"})
	_, err := client.Complete(context.Background(), "hi")
	assert.ErrorContains(t, err, "API key")
}

func TestGeminiSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "invalid model"},
		})
	}))
	defer srv.Close()

	cfg := DefaultGeminiConfig("test-key")
	cfg.BaseURL = srv.URL
	client := NewGeminiClientWithConfig(cfg)

	_, err := client.Complete(context.Background(), "hi")
	assert.ErrorContains(t, err, "invalid model")
}

func TestOpenAICompleteWithSystem(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "openai reply"}},
			},
		})
	}))
	defer srv.Close()

	cfg := DefaultOpenAIConfig("sk-test")
	cfg.BaseURL = srv.URL
	client := NewOpenAIClientWithConfig(cfg)

	out, err := client.CompleteWithSystem(context.Background(), "be terse", "say hi")
	require.NoError(t, err)
	assert.Equal(t, "openai reply", out)

	messages := captured["messages"].([]any)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
}

func TestNewFromConfigProviderSelection(t *testing.T) {
	os.Unsetenv("GEMINI_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")

	t.Run("default provider is gemini", func(t *testing.T) {
		client, err := NewFromConfig(Config{APIKey: "key"})
		require.NoError(t, err)
		assert.IsType(t, &GeminiClient{}, client)
	})

	t.Run("openai provider", func(t *testing.T) {
		client, err := NewFromConfig(Config{Provider: ProviderOpenAI, APIKey: "key"})
		require.NoError(t, err)
		assert.IsType(t, &OpenAIClient{}, client)
	})

	t.Run("missing key fails", func(t *testing.T) {
		_, err := NewFromConfig(Config{Provider: ProviderGemini})
		assert.ErrorContains(t, err, "API key")
	})

	t.Run("unknown provider fails", func(t *testing.T) {
		_, err := NewFromConfig(Config{Provider: "bogus", APIKey: "key"})
		assert.ErrorContains(t, err, "unknown provider")
	})

	t.Run("env key fallback", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "env-key")
		client, err := NewFromConfig(Config{})
		require.NoError(t, err)
		assert.IsType(t, &GeminiClient{}, client)
	})
}
