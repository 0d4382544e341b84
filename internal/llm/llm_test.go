package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/genai"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestOpenAI_Generate(t *testing.T) {
	var mu sync.Mutex
	var got chatRequest
	var auth string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-3.5-turbo",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  {\"summary\":\"ok\"}  "},"finish_reason":"stop"}]}`)
	}))
	defer ts.Close()

	p, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: ts.URL + "/v1/"})
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	text, err := p.Generate(context.Background(), Request{System: "be terse", Prompt: "hello", Temperature: 0.3, MaxTokens: 1500})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != `{"summary":"ok"}` {
		t.Errorf("expected trimmed text, got %q", text)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer sk-test" {
		t.Errorf("expected bearer auth, got %q", auth)
	}
	if got.Model != DefaultOpenAIModel {
		t.Errorf("expected default model, got %q", got.Model)
	}
	if got.MaxTokens != 1500 || got.Temperature != 0.3 {
		t.Errorf("unexpected sampling params: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hello" {
		t.Errorf("unexpected messages: %+v", got.Messages)
	}
}

func TestOpenAI_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, true},
		{"quota", http.StatusForbidden, `{"error":{"message":"You exceeded your current plan","type":"insufficient_quota","code":"insufficient_quota"}}`, true},
		{"bad key", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`, false},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"The server had an error","type":"server_error"}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer ts.Close()

			p, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: ts.URL})
			if err != nil {
				t.Fatalf("NewOpenAI: %v", err)
			}

			_, err = p.Generate(context.Background(), Request{Prompt: "hello"})
			if err == nil {
				t.Fatal("expected error")
			}
			var llmErr *Error
			if !errors.As(err, &llmErr) || llmErr.Provider != "openai" {
				t.Fatalf("expected *Error from openai, got %T %v", err, err)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v (err: %v)", IsRetryable(err), tt.retryable, err)
			}
		})
	}
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[]}`)
	}))
	defer ts.Close()

	p, _ := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: ts.URL})
	_, err := p.Generate(context.Background(), Request{Prompt: "hello"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("empty response should not be retryable")
	}
}

func TestNewProviders_RequireKey(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Error("expected error for missing OpenAI key")
	}
	if _, err := NewGemini(context.Background(), GeminiConfig{}); err == nil {
		t.Error("expected error for missing Gemini key")
	}
}

func TestGemini_Generate(t *testing.T) {
	var mu sync.Mutex
	var body string
	var path string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(b)
		path = r.URL.Path
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"generated report"}]},"finishReason":"STOP"}]}`)
	}))
	defer ts.Close()

	p, err := NewGemini(context.Background(), GeminiConfig{APIKey: "g-test", BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}

	text, err := p.Generate(context.Background(), Request{System: "SYSTEM PROMPT", Prompt: "USER PROMPT", Temperature: 0.3, MaxTokens: 1500})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "generated report" {
		t.Errorf("unexpected text %q", text)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.HasSuffix(path, "models/"+DefaultGeminiModel+":generateContent") {
		t.Errorf("unexpected request path %q", path)
	}
	if !strings.Contains(body, `SYSTEM PROMPT\n\nUSER PROMPT`) {
		t.Errorf("expected combined prompt in body, got %s", body)
	}
	if !strings.Contains(body, `"maxOutputTokens":1500`) {
		t.Errorf("expected max output tokens in body, got %s", body)
	}
}

func TestGemini_BadRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	}))
	defer ts.Close()

	p, err := NewGemini(context.Background(), GeminiConfig{APIKey: "g-test", BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}

	_, err = p.Generate(context.Background(), Request{Prompt: "hello"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Errorf("invalid argument should not be retryable: %v", err)
	}
}

func TestGeminiRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{genai.APIError{Code: 429, Message: "slow down"}, true},
		{genai.APIError{Code: 0, Status: "RESOURCE_EXHAUSTED"}, true},
		{fmt.Errorf("generate: %w", genai.APIError{Code: 429}), true},
		{genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "bad"}, false},
		{errors.New("Quota exceeded for metric"), true},
		{errors.New("connection reset by peer"), false},
	}
	for _, tt := range tests {
		if got := geminiRetryable(tt.err); got != tt.want {
			t.Errorf("geminiRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(errors.New("rate limit")) {
		t.Error("plain errors are never retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	wrapped := fmt.Errorf("synth: %w", &Error{Provider: "openai", Retryable: true, Err: errors.New("429")})
	if !IsRetryable(wrapped) {
		t.Error("expected wrapped retryable error to be detected")
	}
}
