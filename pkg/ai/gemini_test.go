package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateTextSendsPromptAndReadsCandidate(t *testing.T) {
	var gotPath string
	var gotBody generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"go lift heavy"}]}}]}`))
	}))
	defer server.Close()

	client, err := NewGeminiClient("test-key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client = client.WithBaseURL(server.URL)

	reply, err := client.GenerateText(context.Background(), "models/gemini-2.5-flash", "", "analyze my training")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply != "go lift heavy" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if gotPath != "/models/gemini-2.5-flash:generateContent" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Parts[0].Text != "analyze my training" {
		t.Fatalf("unexpected request body %+v", gotBody)
	}
	if gotBody.SystemInstruction != nil {
		t.Fatalf("empty system prompt must be omitted")
	}
}

func TestGenerateTextSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Resource has been exhausted"}}`))
	}))
	defer server.Close()

	client, err := NewGeminiClient("test-key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client = client.WithBaseURL(server.URL)

	_, err = client.GenerateText(context.Background(), "gemini-2.5-flash", "", "hi")
	if err == nil || !strings.Contains(err.Error(), "Resource has been exhausted") {
		t.Fatalf("expected api error surfaced, got %v", err)
	}
}

func TestGeminiGeneratorPinsModel(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer server.Close()

	client, err := NewGeminiClient("test-key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	generator := NewGeminiGenerator(client.WithBaseURL(server.URL), "gemini-2.5-flash")

	if _, err := generator.GenerateText(context.Background(), "", "hi"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gotPath != "/models/gemini-2.5-flash:generateContent" {
		t.Fatalf("unexpected path %s", gotPath)
	}
}
