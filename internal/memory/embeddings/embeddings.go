// Package embeddings provides embedding providers and a priority chain
// with a deterministic hash fallback, so memory indexing keeps working
// when no embedding service is reachable.
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Provider generates fixed-length embedding vectors.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider name.
	Name() string

	// Dimension returns the embedding dimension.
	Dimension() int
}

// Config selects and configures the providers in a chain.
type Config struct {
	// Priority lists provider names in preference order. Default:
	// ollama, openai, hash.
	Priority []string `yaml:"priority"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model"`

	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`

	Dimension int `yaml:"dimension"`
}

// HashProvider is the last-resort provider: a deterministic embedding
// derived from SHA-256 of the text. Vectors are stable across runs but
// carry no semantics; keyword search compensates.
type HashProvider struct {
	dim int
}

// NewHashProvider creates a hash provider with the given dimension.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = 768
	}
	return &HashProvider{dim: dim}
}

func (p *HashProvider) Name() string   { return "hash" }
func (p *HashProvider) Dimension() int { return p.dim }

// Embed derives a unit-norm vector from repeated hashing of the text.
func (p *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dim)
	seed := sha256.Sum256([]byte(text))
	block := seed[:]
	for i := 0; i < p.dim; i++ {
		if i%8 == 0 && i > 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		bits := binary.LittleEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		// Map to [-1, 1)
		vec[i] = float32(bits)/float32(math.MaxUint32)*2 - 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// Chain tries providers in priority order, caching which ones have
// failed so later calls skip them.
type Chain struct {
	mu        sync.Mutex
	providers []Provider
	dead      map[string]bool
	logger    *slog.Logger
}

// NewChain builds a chain over the given providers, in order.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		dead:      make(map[string]bool),
		logger:    logger,
	}
}

// Embed returns the first successful provider's embedding.
func (c *Chain) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	candidates := make([]Provider, 0, len(c.providers))
	for _, p := range c.providers {
		if !c.dead[p.Name()] {
			candidates = append(candidates, p)
		}
	}
	c.mu.Unlock()

	var lastErr error
	for _, p := range candidates {
		vec, err := p.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		c.logger.Warn("embedding provider failed, trying next", "provider", p.Name(), "error", err)
		c.mu.Lock()
		c.dead[p.Name()] = true
		c.mu.Unlock()
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no embedding providers configured")
	}
	return nil, lastErr
}

// Name identifies the chain by its first live provider.
func (c *Chain) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.providers {
		if !c.dead[p.Name()] {
			return p.Name()
		}
	}
	return "none"
}

// Dimension returns the dimension of the first provider. All providers
// in one chain must agree on dimension.
func (c *Chain) Dimension() int {
	if len(c.providers) == 0 {
		return 0
	}
	return c.providers[0].Dimension()
}
