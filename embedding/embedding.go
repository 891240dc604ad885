// Package embedding defines the embedding provider contract used by episodic
// memory and ships three implementations: a deterministic local hashing
// provider, an Ollama HTTP client and a caching wrapper.
package embedding

import (
	"context"
	"fmt"
	"time"
)

// Provider turns text into a fixed-size vector. Implementations must be safe
// for concurrent use and must return vectors of exactly Dimensions() length.
type Provider interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding size.
	Dimensions() int
}

// Provider names accepted by New.
const (
	ProviderHashing = "hashing"
	ProviderOllama  = "ollama"
)

// Options selects and configures a provider.
type Options struct {
	// Provider is ProviderHashing (default) or ProviderOllama.
	Provider string

	// Dimensions is the embedding size.
	Dimensions int

	// BaseURL and Model configure the Ollama provider.
	BaseURL string
	Model   string

	// Timeout bounds a single Ollama request.
	Timeout time.Duration

	// CacheSize, when positive, wraps the provider in a Cached provider
	// holding up to CacheSize embeddings.
	CacheSize int64
}

// New builds the provider described by opts.
func New(opts Options) (Provider, error) {
	var (
		p   Provider
		err error
	)

	switch opts.Provider {
	case "", ProviderHashing:
		p = NewHashing(opts.Dimensions)
	case ProviderOllama:
		p, err = NewOllama(OllamaConfig{
			BaseURL:    opts.BaseURL,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			Timeout:    opts.Timeout,
		})
	default:
		return nil, fmt.Errorf("embedding: unsupported provider: %s", opts.Provider)
	}
	if err != nil {
		return nil, err
	}

	if opts.CacheSize > 0 {
		return NewCached(p, opts.CacheSize)
	}
	return p, nil
}
