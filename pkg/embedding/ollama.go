package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scriptrate/ragcore/pkg/config"
)

// OllamaProvider embeds texts through a local Ollama model server.
//
// The first call may block while the server loads the model. If the
// provider fails before ever serving a request, it is marked dead for
// the remainder of the process: a model that cannot load will not
// recover by retrying. Once a request has succeeded the model is known
// to load, so later failures are ordinary transient errors.
//
// Requests are serialized; the llama runner is known to crash under
// concurrent embedding requests.
type OllamaProvider struct {
	client    *http.Client
	host      string
	model     string
	dimension int

	mu     sync.Mutex
	loaded atomic.Bool
	dead   atomic.Bool
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaProvider creates a local model provider.
func NewOllamaProvider(cfg *config.LocalEmbedderConfig, dimension int, timeout time.Duration) (*OllamaProvider, error) {
	if cfg == nil {
		return nil, NewProviderError("ollama", KindConfig, "local embedder config is required", nil)
	}

	host := cfg.Host
	if host == "" {
		host = "http://localhost:11434"
	}

	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &OllamaProvider{
		client:    &http.Client{Timeout: timeout},
		host:      host,
		model:     model,
		dimension: dimension,
	}, nil
}

// ID returns "ollama".
func (p *OllamaProvider) ID() string { return "ollama" }

// ModelName returns the configured model.
func (p *OllamaProvider) ModelName() string { return p.model }

// Dimension returns the declared output dimensionality.
func (p *OllamaProvider) Dimension() int { return p.dimension }

// Deterministic returns true; a loaded model produces stable output
// for identical input.
func (p *OllamaProvider) Deterministic() bool { return true }

// Embed converts texts to vectors one request at a time, preserving order.
func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.dead.Load() {
		return nil, NewProviderError(p.ID(), KindConfig, "model failed to load, provider disabled", nil)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.embedOne(ctx, text)
		if err != nil {
			if !p.loaded.Load() && ctx.Err() == nil {
				// The server has never answered a request: assume the
				// model cannot load and stop trying for this process.
				p.dead.Store(true)
				slog.Warn("Local embedding model unavailable, disabling provider",
					"model", p.model, "host", p.host, "error", err)
			}
			return nil, err
		}
		p.loaded.Store(true)
		vectors[i] = vec
	}
	return vectors, nil
}

func (p *OllamaProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, NewProviderError(p.ID(), KindPermanent, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewProviderError(p.ID(), KindPermanent, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError(p.ID(), KindTransient, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		kind := KindTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = KindPermanent
		}
		return nil, NewProviderError(p.ID(), kind,
			fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var response ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, NewProviderError(p.ID(), KindPermanent, "failed to decode response", err)
	}
	if len(response.Embedding) == 0 {
		return nil, NewProviderError(p.ID(), KindPermanent, "received empty embedding", nil)
	}

	return response.Embedding, nil
}

// Close is a no-op.
func (p *OllamaProvider) Close() error { return nil }

var _ Provider = (*OllamaProvider)(nil)
