package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scriptrate/ragcore/pkg/config"
)

// OpenAIProvider embeds texts through an OpenAI-compatible embeddings API.
type OpenAIProvider struct {
	client    *http.Client
	apiKey    string
	baseURL   string
	model     string
	dimension int
}

type openAIEmbedRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIProvider creates a remote API provider.
func NewOpenAIProvider(cfg *config.RemoteEmbedderConfig, dimension int, timeout time.Duration) (*OpenAIProvider, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, NewProviderError("openai", KindConfig, "api_key is required", nil)
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &OpenAIProvider{
		client:    &http.Client{Timeout: timeout},
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
	}, nil
}

// ID returns "openai".
func (p *OpenAIProvider) ID() string { return "openai" }

// ModelName returns the configured model.
func (p *OpenAIProvider) ModelName() string { return p.model }

// Dimension returns the declared output dimensionality.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// Deterministic returns true; the embeddings endpoint is stable for a
// fixed model, so results are cacheable.
func (p *OpenAIProvider) Deterministic() bool { return true }

// Embed submits all texts as a single API call and returns vectors in
// input order.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(openAIEmbedRequest{
		Model:          p.model,
		Input:          texts,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, NewProviderError(p.ID(), KindPermanent, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewProviderError(p.ID(), KindPermanent, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError(p.ID(), KindTransient, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewProviderError(p.ID(), KindTransient, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyStatus(resp.StatusCode, body)
	}

	var response openAIEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, NewProviderError(p.ID(), KindPermanent, "failed to decode response", err)
	}

	if len(response.Data) != len(texts) {
		return nil, NewProviderError(p.ID(), KindPermanent,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(response.Data)), nil)
	}

	// The API may return entries out of order; the index field is authoritative.
	vectors := make([][]float32, len(texts))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, NewProviderError(p.ID(), KindPermanent,
				fmt.Sprintf("embedding index %d out of range", item.Index), nil)
		}
		if len(item.Embedding) == 0 {
			return nil, NewProviderError(p.ID(), KindPermanent, "received empty embedding", nil)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, NewProviderError(p.ID(), KindPermanent,
				fmt.Sprintf("missing embedding for input %d", i), nil)
		}
	}

	return vectors, nil
}

func (p *OpenAIProvider) classifyStatus(status int, body []byte) error {
	message := string(body)
	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = fmt.Sprintf("%s (type: %s, code: %s)", errResp.Error.Message, errResp.Error.Type, errResp.Error.Code)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewProviderError(p.ID(), KindAuth, message, nil)
	case status == http.StatusTooManyRequests || status >= 500:
		return NewProviderError(p.ID(), KindTransient, fmt.Sprintf("status %d: %s", status, message), nil)
	default:
		return NewProviderError(p.ID(), KindPermanent, fmt.Sprintf("status %d: %s", status, message), nil)
	}
}

// Close is a no-op; the HTTP client holds no persistent state.
func (p *OpenAIProvider) Close() error { return nil }

var _ Provider = (*OpenAIProvider)(nil)
