package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider implements Generator against an Ollama server's
// /api/generate endpoint, which streams its response as one JSON object
// per line.
type OllamaProvider struct {
	client    *http.Client
	baseURL   string
	model     string
	retriever Retriever
}

// OllamaOption configures an OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithBaseURL sets a custom server base URL.
func WithBaseURL(url string) OllamaOption {
	return func(p *OllamaProvider) { p.baseURL = strings.TrimSuffix(url, "/") }
}

// WithModel sets the model name.
func WithModel(model string) OllamaOption {
	return func(p *OllamaProvider) { p.model = model }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(p *OllamaProvider) { p.client = c }
}

// WithRetriever sets the knowledge retriever used to fill {contexto}.
func WithRetriever(r Retriever) OllamaOption {
	return func(p *OllamaProvider) { p.retriever = r }
}

// NewOllama creates a new Ollama generation client.
func NewOllama(opts ...OllamaOption) *OllamaProvider {
	p := &OllamaProvider{
		client:  &http.Client{Timeout: 300 * time.Second},
		baseURL: "http://localhost:11434",
		model:   "llama3",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Generate(ctx context.Context, req Request) (string, error) {
	contextText := ""
	if p.retriever != nil {
		retrieved, err := p.retriever.RetrieveContext(req.Question, req.Sources)
		if err != nil {
			return "", fmt.Errorf("retrieve context: %w", err)
		}
		contextText = retrieved
	}

	body := ollamaRequest{
		Model:  p.model,
		Prompt: RenderPrompt(req.System, contextText, req.Question),
		Stream: req.Stream != nil,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if req.Stream == nil {
		var out ollamaResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}
		return out.Response, nil
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("unmarshal stream line: %w", err)
		}
		if chunk.Response != "" {
			full.WriteString(chunk.Response)
			if req.Stream.OnChunk != nil {
				req.Stream.OnChunk(chunk.Response)
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}

	text := full.String()
	if req.Stream.OnDone != nil {
		req.Stream.OnDone(text)
	}
	return text, nil
}

// RenderPrompt substitutes the {contexto} and {pergunta} placeholders of
// a system template.
func RenderPrompt(system, contextText, question string) string {
	out := strings.ReplaceAll(system, "{contexto}", contextText)
	return strings.ReplaceAll(out, "{pergunta}", question)
}

// --- Ollama wire format types ---

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}
