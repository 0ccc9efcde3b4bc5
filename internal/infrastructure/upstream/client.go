// Package upstream holds the single HTTP client this relay speaks to the
// proprietary SSE backend through: connection setup, browser-identical
// headers, the anonymous-token flow, and SSE frame decoding.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
	"github.com/Baozhi888/zai2api-go/internal/domain/service"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/cache"
	"go.uber.org/zap"
)

// Client is a Go-native HTTP client for the single upstream this relay
// translates for. Its Transport construction is lifted directly from the
// teacher's openai.Provider: same TLS floor, same dial/idle timeouts.
type Client struct {
	baseURL        string
	token          string
	anonymousToken bool
	httpClient     *http.Client
	headers        *HeaderPool
	tokenCache     *cache.TTLCache
	breaker        *CircuitBreaker
	idleTimeout    time.Duration
	logger         *zap.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	Token          string
	AnonymousToken bool
	IdleTimeout    time.Duration
	TokenTTL       time.Duration
}

// New builds a Client with a hardened Transport, mirroring the teacher's
// openai.Provider.New: 30s dial timeout, TLS 1.2 floor, bounded idle
// connections.
func New(opts Options, logger *zap.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 60 * time.Second
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = 50 * time.Minute
	}

	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		token:          opts.Token,
		anonymousToken: opts.AnonymousToken,
		httpClient:     &http.Client{Transport: transport},
		headers:        NewHeaderPool(),
		tokenCache:     cache.New(ttl, 4),
		breaker:        NewCircuitBreaker(5, 30*time.Second),
		idleTimeout:    idle,
		logger:         logger.With(zap.String("component", "upstream-client")),
	}
}

// StreamChat posts a translated request body to the upstream chat endpoint
// and returns a channel of decoded frames. The returned channel is always
// closed by the FrameReader goroutine, including on error — check the
// returned error, not channel closure, to detect failure.
func (c *Client) StreamChat(ctx context.Context, requestBody []byte) (<-chan entity.UpstreamFrame, error) {
	if !c.breaker.Allow() {
		return nil, service.NewRelayError(service.KindUpstreamUnavailable, "upstream circuit breaker open", nil)
	}

	token, err := c.resolveToken(ctx)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, service.ClassifyUpstreamError(err, 0)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, service.NewRelayError(service.KindInternalError, "failed to build upstream request", err)
	}
	c.headers.Apply(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, service.ClassifyUpstreamError(err, 0)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.breaker.RecordFailure()
		return nil, service.ClassifyUpstreamError(fmt.Errorf("upstream status %d: %s", resp.StatusCode, body), resp.StatusCode)
	}

	c.breaker.RecordSuccess()

	out := make(chan entity.UpstreamFrame, 32)
	reader := NewFrameReader(resp.Body, c.idleTimeout, c.logger)
	go func() {
		defer resp.Body.Close()
		if err := reader.Run(ctx, out); err != nil {
			c.logger.Warn("upstream stream ended with error", zap.Error(err))
		}
	}()
	return out, nil
}

// resolveToken returns the configured static token, or fetches and caches
// an anonymous session token when AnonymousToken is set.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	if !c.anonymousToken {
		return c.token, nil
	}
	if cached, ok := c.tokenCache.Get("anon"); ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/auths", nil)
	if err != nil {
		return "", err
	}
	c.headers.Apply(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("anonymous token request failed: status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode anonymous token response: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("anonymous token response had no token field")
	}

	c.tokenCache.Put("anon", payload.Token)
	return payload.Token, nil
}
