package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type staticRetriever string

func (r staticRetriever) RetrieveContext(question string, sources []string) (string, error) {
	return string(r), nil
}

func TestGenerateStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req ollamaRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if !req.Stream {
			t.Error("expected stream request")
		}
		if !strings.Contains(req.Prompt, "CTX") || !strings.Contains(req.Prompt, "minha pergunta") {
			t.Errorf("placeholders not substituted: %q", req.Prompt)
		}

		flusher := w.(http.Flusher)
		for _, piece := range []string{"Olá", " tudo bem?"} {
			json.NewEncoder(w).Encode(ollamaResponse{Response: piece})
			flusher.Flush()
		}
		json.NewEncoder(w).Encode(ollamaResponse{Done: true})
	}))
	defer srv.Close()

	p := NewOllama(
		WithBaseURL(srv.URL),
		WithModel("llama3"),
		WithRetriever(staticRetriever("CTX")),
	)

	var chunks []string
	var final string
	full, err := p.Generate(context.Background(), Request{
		System:   "Contexto: {contexto}\nPergunta: {pergunta}",
		Question: "minha pergunta",
		Stream: &Stream{
			OnChunk: func(s string) { chunks = append(chunks, s) },
			OnDone:  func(s string) { final = s },
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if full != "Olá tudo bem?" {
		t.Errorf("full text %q", full)
	}
	if len(chunks) != 2 || chunks[0] != "Olá" || chunks[1] != " tudo bem?" {
		t.Errorf("chunks %v", chunks)
	}
	if final != "Olá tudo bem?" {
		t.Errorf("final %q", final)
	}
}

func TestGenerateNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("expected non-stream request")
		}
		json.NewEncoder(w).Encode(ollamaResponse{Response: "resposta completa", Done: true})
	}))
	defer srv.Close()

	p := NewOllama(WithBaseURL(srv.URL))
	got, err := p.Generate(context.Background(), Request{System: "{pergunta}", Question: "q"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "resposta completa" {
		t.Errorf("got %q", got)
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllama(WithBaseURL(srv.URL))
	_, err := p.Generate(context.Background(), Request{System: "s", Question: "q"})
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Errorf("expected api error, got %v", err)
	}
}

func TestGenerateContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Response: "x", Done: true})
	}))
	defer srv.Close()

	p := NewOllama(WithBaseURL(srv.URL))
	if _, err := p.Generate(ctx, Request{System: "s", Question: "q"}); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestRenderPrompt(t *testing.T) {
	got := RenderPrompt("a {contexto} b {pergunta} c", "CTX", "Q")
	want := "a CTX b Q c"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestRetrieverErrorPropagates(t *testing.T) {
	p := NewOllama(WithRetriever(failingRetriever{}))
	_, err := p.Generate(context.Background(), Request{System: "s", Question: "q"})
	if err == nil || !strings.Contains(err.Error(), "retrieve context") {
		t.Errorf("expected retriever error, got %v", err)
	}
}

type failingRetriever struct{}

func (failingRetriever) RetrieveContext(string, []string) (string, error) {
	return "", fmt.Errorf("index unavailable")
}
