package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/circuitbreaker"
	"github.com/interflow/orchestrator/internal/tracing"
)

const maxResponseBytes = 8 << 20

// ClientConfig configures the retrieval provider client.
type ClientConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// SearchResponse is the provider answer with citations and sources extracted.
type SearchResponse struct {
	Results   []agents.Record
	Citations []string
	Sources   []agents.Source
}

// Searcher queries a retrieval provider.
type Searcher interface {
	Search(ctx context.Context, query string) (*SearchResponse, error)
}

// Client is the HTTP retrieval provider client. Errors are *RetrievalError.
type Client struct {
	endpoint string
	apiKey   string
	http     *circuitbreaker.HTTPWrapper
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewClient creates a client; limiter may be nil for no client-side pacing.
func NewClient(cfg ClientConfig, limiter *rate.Limiter, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	hw := circuitbreaker.NewHTTPWrapper(
		&http.Client{Timeout: timeout},
		circuitbreaker.DependencyRetrieval,
		circuitbreaker.SettingsFor(circuitbreaker.DependencyRetrieval),
		logger,
	)
	return &Client{endpoint: cfg.Endpoint, apiKey: cfg.APIKey, http: hw, limiter: limiter, logger: logger}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Breaker exposes the provider circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker { return c.http.Breaker() }

// Search posts {"q": query} to the provider.
func (c *Client) Search(ctx context.Context, query string) (*SearchResponse, error) {
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, c.endpoint)
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, permanent(fmt.Errorf("rate limiter: %w", err))
		}
	}

	body, err := json.Marshal(map[string]string{"q": query})
	if err != nil {
		return nil, permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, permanent(ctx.Err())
		}
		return nil, transient(0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, rateLimited(resp.StatusCode, errors.New("provider rate limit"))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, transient(resp.StatusCode, fmt.Errorf("unexpected status: %s", bytes.TrimSpace(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transient(resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	out, err := c.decode(data)
	if err != nil {
		return nil, transient(resp.StatusCode, err)
	}
	return out, nil
}

// decode extracts results, citations and sources from a provider payload.
func (c *Client) decode(data []byte) (*SearchResponse, error) {
	var envelope struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &SearchResponse{
		Results:   make([]agents.Record, 0, len(envelope.Results)),
		Citations: []string{},
		Sources:   []agents.Source{},
	}
	for i, raw := range envelope.Results {
		var rec agents.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode result %d: %w", i, err)
		}
		out.Results = append(out.Results, rec)

		if cit, ok := rec["citation"]; ok {
			if s, ok := cit.(string); ok {
				out.Citations = append(out.Citations, s)
			} else if b, err := json.Marshal(cit); err == nil {
				out.Citations = append(out.Citations, string(b))
			}
		}

		if _, ok := rec["source"]; ok {
			var meta struct {
				Source agents.Source `json:"source"`
			}
			if err := json.Unmarshal(raw, &meta); err != nil {
				c.logger.Debug("Skipping malformed source", zap.Int("result", i), zap.Error(err))
				continue
			}
			out.Sources = append(out.Sources, meta.Source)
		}
	}
	return out, nil
}
