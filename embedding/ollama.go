package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zero-day-ai/tiermem/memory"
)

const (
	// DefaultOllamaModel is the default model used for embeddings.
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultOllamaBaseURL is the default Ollama API URL.
	DefaultOllamaBaseURL = "http://localhost:11434"

	// DefaultOllamaDimensions is the output size of DefaultOllamaModel.
	DefaultOllamaDimensions = 768

	defaultOllamaTimeout = 30 * time.Second
)

// OllamaConfig holds configuration for the Ollama provider.
type OllamaConfig struct {
	// BaseURL is the Ollama API URL. Defaults to DefaultOllamaBaseURL.
	BaseURL string

	// Model is the embedding model. Defaults to DefaultOllamaModel.
	Model string

	// Dimensions is the size the model produces. Responses of any other
	// size are rejected. Defaults to DefaultOllamaDimensions.
	Dimensions int

	// Timeout bounds a single request.
	Timeout time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Ollama wraps Ollama's /api/embed endpoint.
type Ollama struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

type ollamaRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllama creates an Ollama provider.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultOllamaDimensions
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultOllamaTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Ollama{
		baseURL:    baseURL,
		model:      model,
		dimensions: dims,
		httpClient: client,
	}, nil
}

// Embed converts text into a vector embedding.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", memory.ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", memory.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", memory.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", memory.ErrEmbedding, resp.StatusCode, string(msg))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", memory.ErrEmbedding, err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", memory.ErrEmbedding)
	}

	vec := out.Embeddings[0]
	if len(vec) != o.dimensions {
		return nil, memory.DimensionMismatch("embedding.Ollama", o.dimensions, len(vec))
	}
	return vec, nil
}

// Dimensions returns the embedding size.
func (o *Ollama) Dimensions() int {
	return o.dimensions
}

var _ Provider = (*Ollama)(nil)
