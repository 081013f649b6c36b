package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/S-Corkum/remstore/pkg/models"
)

// OpenAIProvider implements Provider over the OpenAI-compatible
// /embeddings HTTP API
type OpenAIProvider struct {
	config     Config
	httpClient *http.Client
}

type openAIRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIResponse struct {
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
	} `json:"error"`
}

// NewOpenAIProvider creates a new OpenAI-compatible provider
func NewOpenAIProvider(config Config) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if config.Endpoint == "" {
		config.Endpoint = "https://api.openai.com/v1"
	}
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.Dimensions == 0 {
		config.Dimensions = 1536
	}
	if config.MaxBatchSize == 0 {
		config.MaxBatchSize = 128
	}

	return &OpenAIProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func init() {
	RegisterProvider("openai", NewOpenAIProvider)
}

// Name implements Provider
func (p *OpenAIProvider) Name() string { return "openai" }

// Dimensions implements Provider
func (p *OpenAIProvider) Dimensions() int { return p.config.Dimensions }

// EncodeBatch implements Provider. Inputs beyond MaxBatchSize are split
// into sequential upstream calls; output order matches input order.
func (p *OpenAIProvider) EncodeBatch(ctx context.Context, texts []string) ([]models.Vector, error) {
	out := make([]models.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += p.config.MaxBatchSize {
		end := start + p.config.MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.encodeOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *OpenAIProvider) encodeOnce(ctx context.Context, texts []string) ([]models.Vector, error) {
	body, err := json.Marshal(openAIRequest{Input: texts, Model: p.config.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openAIErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("embedding API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("embedding API error: status %d", resp.StatusCode)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	// The API may return entries out of order; index is authoritative
	out := make([]models.Vector, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding API returned out-of-range index %d", d.Index)
		}
		out[d.Index] = models.Vector(d.Embedding)
	}
	return out, nil
}

// HealthCheck implements Provider
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	_, err := p.encodeOnce(ctx, []string{"ping"})
	return err
}

// Close implements Provider
func (p *OpenAIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
