package inference

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"webresearch/backend/internal/config"
)

func testConfig(baseURL string) config.Config {
	return config.Config{
		InferenceAPIKey:  "sk-test-key-9876",
		InferenceBaseURL: baseURL,
		InferenceModel:   "test-model",
	}
}

func TestRespondReturnsMessageContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test-key-9876" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "model says hi"}}]}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	got, err := client.Respond(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got != "model says hi" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestRespondRequiresAPIKey(t *testing.T) {
	client := NewClient(config.Config{InferenceBaseURL: "http://unused"}, nil)
	if _, err := client.Respond(context.Background(), "prompt"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestRespondRequiresPrompt(t *testing.T) {
	client := NewClient(testConfig("http://unused"), nil)
	if _, err := client.Respond(context.Background(), "   "); err == nil {
		t.Fatalf("expected an error for an empty prompt")
	}
}

func TestRespondSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	_, err := client.Respond(context.Background(), "prompt")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected an APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Body != "upstream exploded" {
		t.Fatalf("unexpected APIError %+v", apiErr)
	}
}

func TestRespondSurfacesEmbeddedErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [], "error": {"message": "model overloaded"}}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	_, err := client.Respond(context.Background(), "prompt")
	if err == nil || err.Error() != "model overloaded" {
		t.Fatalf("expected the embedded error message, got %v", err)
	}
}

func TestMaskedKeyHidesCredential(t *testing.T) {
	client := NewClient(testConfig("http://unused"), nil)
	if got := client.MaskedKey(); got != "sk-t...9876" {
		t.Fatalf("unexpected masked key %q", got)
	}
}
