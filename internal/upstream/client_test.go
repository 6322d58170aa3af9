package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"chatrelay/internal/config"
	"chatrelay/internal/health"
	"chatrelay/internal/signature"
)

var hexSignature = regexp.MustCompile(`^[0-9a-f]{64}$`)

func testConfig(url string) config.VendorConfig {
	return config.VendorConfig{
		ChatURL:       url + "/chat",
		ModelsURL:     url + "/models",
		BearerToken:   "bearer-token",
		DeviceID:      "device-1",
		SigningSecret: "secret",
		Locale:        "en-US",
		Source:        "api",
	}
}

func testRequest() ChatRequest {
	return ChatRequest{
		Model:        "chat-standard",
		Provider:     "default",
		Messages:     []Message{{Author: AuthorUser, Content: Content{Text: "hi"}}},
		SystemPrompt: "markdown",
		Temperature:  0.7,
		Locale:       "en-US",
		Source:       "api",
		ThreadID:     "thread-1",
		Tools:        []json.RawMessage{},
	}
}

func TestChatSignsRequest(t *testing.T) {
	var gotHeaders http.Header
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer server.Close()

	tracker := health.NewTracker()
	client := NewClient(testConfig(server.URL), server.Client(), tracker, nil)

	resp, err := client.Chat(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	resp.Body.Close()

	if got := gotHeaders.Get("Authorization"); got != "Bearer bearer-token" {
		t.Errorf("Authorization = %q", got)
	}
	if got := gotHeaders.Get("User-Agent"); got != userAgent {
		t.Errorf("User-Agent = %q, want the vendor client string", got)
	}
	if got := gotHeaders.Get(headerDeviceID); got != "device-1" {
		t.Errorf("device header = %q", got)
	}

	ts := gotHeaders.Get(headerTimestamp)
	if ts == "" {
		t.Fatal("timestamp header missing")
	}
	sig := gotHeaders.Get(headerSignature)
	if !hexSignature.MatchString(sig) {
		t.Fatalf("signature header = %q, want 64 lowercase hex chars", sig)
	}
	if want := signature.Sign(ts, "device-1", gotBody, "secret"); sig != want {
		t.Errorf("signature = %q, want %q (recomputed from received headers and body)", sig, want)
	}

	if !tracker.Snapshot().Healthy {
		t.Error("tracker not marked healthy after success")
	}
}

func TestFetchModelsOmitsSignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if _, ok := r.Header[headerSignature]; ok {
			t.Error("GET request must not carry a signature header")
		}
		if r.Header.Get(headerTimestamp) == "" {
			t.Error("timestamp header missing on GET")
		}
		json.NewEncoder(w).Encode(modelListResponse{Models: []Model{
			{Name: "swift", Provider: "default", ModelID: "chat-swift"},
		}})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client(), nil, nil)
	models, err := client.FetchModels(context.Background())
	if err != nil {
		t.Fatalf("FetchModels: %v", err)
	}
	if len(models) != 1 || models[0].Name != "swift" {
		t.Fatalf("models = %+v", models)
	}
}

func TestChatNon2xxBecomesStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"backend exploded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tracker := health.NewTracker()
	client := NewClient(testConfig(server.URL), server.Client(), tracker, nil)

	_, err := client.Chat(context.Background(), testRequest())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", statusErr.StatusCode)
	}
	if statusErr.Body == "" {
		t.Error("diagnostic body excerpt not captured")
	}
	if tracker.Snapshot().Healthy {
		t.Error("tracker still healthy after upstream failure")
	}
}

// An empty signing secret must fall back to the default-tier key, keeping
// the relay functional against the vendor's default signing tier.
func TestEmptySecretFallsBackToDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts := r.Header.Get(headerTimestamp)
		want := signature.Sign(ts, "device-1", body, defaultSigningSecret)
		if got := r.Header.Get(headerSignature); got != want {
			t.Errorf("signature = %q, want default-tier signature %q", got, want)
		}
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.SigningSecret = ""
	client := NewClient(cfg, server.Client(), nil, nil)

	resp, err := client.Chat(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	resp.Body.Close()
}

func TestChatNetworkErrorMarksFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	tracker := health.NewTracker()
	client := NewClient(testConfig(server.URL), nil, tracker, nil)

	if _, err := client.Chat(context.Background(), testRequest()); err == nil {
		t.Fatal("expected a network error")
	}
	if tracker.Snapshot().Healthy || !tracker.Observed() {
		t.Error("tracker not marked failed after network error")
	}
}
