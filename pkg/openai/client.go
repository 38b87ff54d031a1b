// Package openai provides the embeddings client used for page localization.
// It speaks the Azure OpenAI embeddings wire shape over plain HTTP.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultAPIVersion = "2024-12-01-preview"
	defaultModel      = "text-embedding-3-large"
)

// EmbeddingsClient fetches fixed-length vectors for text.
type EmbeddingsClient interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithModel overrides the default embedding deployment name.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

// WithAPIVersion overrides the default api-version query parameter.
func WithAPIVersion(v string) Option {
	return func(c *httpClient) {
		c.apiVersion = v
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request throttle (3 req/s).
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	endpoint   string
	apiKey     string
	model      string
	apiVersion string
	http       *http.Client
	limiter    *rate.Limiter
}

// NewClient creates an embeddings client for the given Azure OpenAI
// endpoint. Calls are throttled to 3 req/s by default.
func NewClient(endpoint, apiKey string, opts ...Option) EmbeddingsClient {
	c := &httpClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      defaultModel,
		apiVersion: defaultAPIVersion,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(3, 3),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type embeddingsRequest struct {
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []embeddingDatum `json:"data"`
}

type embeddingDatum struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

func (c *httpClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "openai: rate limit")
		}
	}

	body, err := json.Marshal(embeddingsRequest{Input: texts})
	if err != nil {
		return nil, eris.Wrap(err, "openai: marshal request")
	}

	url := c.endpoint + "/openai/deployments/" + c.model + "/embeddings?api-version=" + c.apiVersion
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "openai: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "openai: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "openai: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("openai: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result embeddingsResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "openai: unmarshal response")
	}

	// Responses are index-addressed; never trust arrival order.
	out := make([][]float64, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, eris.Errorf("openai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
