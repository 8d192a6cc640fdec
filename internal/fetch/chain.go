// Package fetch retrieves remote images through an ordered list of access
// strategies, optionally retrying the whole chain.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tendant/simple-derivative-pipeline/internal/metrics"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 64 << 20
)

// Strategy rewrites a target URL into the URL actually requested
type Strategy struct {
	Name    string
	Rewrite func(target string) string
}

// Direct requests the target URL unchanged
func Direct() Strategy {
	return Strategy{Name: "direct", Rewrite: func(target string) string { return target }}
}

// Proxy requests prefix+target. When escape is set the target is query
// escaped first.
func Proxy(name, prefix string, escape bool) Strategy {
	return Strategy{
		Name: name,
		Rewrite: func(target string) string {
			if escape {
				return prefix + url.QueryEscape(target)
			}
			return prefix + target
		},
	}
}

// DefaultStrategies are direct, then two public passthrough proxies
func DefaultStrategies() []Strategy {
	return []Strategy{
		Direct(),
		Proxy("corsproxy", "https://corsproxy.io/?url=", true),
		Proxy("allorigins", "https://api.allorigins.win/raw?url=", true),
	}
}

// Response is a successful fetch
type Response struct {
	URL         string // target URL
	FetchedFrom string // URL that answered
	Strategy    string
	StatusCode  int
	Header      http.Header
	Body        []byte
	Attempts    []Attempt
}

// ChainConfig describes a chain
type ChainConfig struct {
	Strategies   []Strategy
	HTTPClient   *http.Client
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Chain tries strategies strictly in order until one succeeds
type Chain struct {
	strategies   []Strategy
	http         *http.Client
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewChain creates a chain. Empty fields take defaults.
func NewChain(cfg ChainConfig) *Chain {
	strategies := cfg.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{strategies: strategies, http: client, maxBodyBytes: maxBody, logger: logger}
}

// Strategies returns the strategy names in order
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name
	}
	return names
}

// Fetch requests target through each strategy in turn. A non-2xx status or a
// transport error moves on to the next strategy. When all fail the error is
// a *ChainError wrapping ErrAllStrategiesExhausted.
func (c *Chain) Fetch(ctx context.Context, target string) (*Response, error) {
	attempts := make([]Attempt, 0, len(c.strategies))

	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		requestURL := s.Rewrite(target)
		attempt := Attempt{URL: requestURL, StrategyIndex: i, Strategy: s.Name, StartedAt: time.Now()}
		resp, err := c.do(ctx, requestURL)
		attempt.Duration = time.Since(attempt.StartedAt)

		switch {
		case err != nil:
			attempt.Outcome = OutcomeTransportError
			attempt.Err = err.Error()
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			attempt.Outcome = OutcomeHTTPError
			attempt.StatusCode = resp.StatusCode
		default:
			attempt.Outcome = OutcomeSuccess
			attempt.StatusCode = resp.StatusCode
		}
		attempts = append(attempts, attempt)
		metrics.FetchAttemptsTotal.WithLabelValues(s.Name, string(attempt.Outcome)).Inc()

		if attempt.Outcome == OutcomeSuccess {
			resp.URL = target
			resp.Strategy = s.Name
			resp.Attempts = attempts
			return resp, nil
		}
		c.logger.Debug("fetch strategy failed",
			"url", target,
			"strategy", s.Name,
			"outcome", attempt.Outcome,
			"status", attempt.StatusCode,
			"error", attempt.Err)
	}

	return nil, &ChainError{URL: target, Attempts: attempts}
}

func (c *Chain) do(ctx context.Context, requestURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &Response{FetchedFrom: requestURL, StatusCode: resp.StatusCode, Header: resp.Header}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return out, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", c.maxBodyBytes)
	}
	out.Body = body
	return out, nil
}
