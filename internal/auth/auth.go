// Package auth supplies the streaming credential used by the transport channel.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNoCredential indicates no token source is configured or usable.
var ErrNoCredential = errors.New("no streaming credential available")

// Config selects the token source. A static token wins; otherwise the
// provider exchanges the API key at TokenURL and caches the result.
type Config struct {
	Token    string
	TokenURL string
	APIKey   string
}

// Provider resolves a bearer token for channel connects.
type Provider struct {
	cfg  Config
	http *resty.Client

	mu     sync.Mutex
	cached string
	expiry time.Time
}

// NewProvider builds a provider from config.
func NewProvider(cfg Config) *Provider {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(1)
	return &Provider{cfg: cfg, http: client}
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// Token returns a credential, preferring env override, then static config,
// then the exchange endpoint.
func (p *Provider) Token(ctx context.Context) (string, error) {
	if env := strings.TrimSpace(os.Getenv("RECOLLECT_AUTH_TOKEN")); env != "" {
		return env, nil
	}
	if token := strings.TrimSpace(p.cfg.Token); token != "" {
		return token, nil
	}
	if strings.TrimSpace(p.cfg.TokenURL) == "" {
		return "", ErrNoCredential
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && time.Now().Before(p.expiry) {
		return p.cached, nil
	}

	var result tokenResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("X-API-Key", p.cfg.APIKey).
		SetResult(&result).
		Post(p.cfg.TokenURL)
	if err != nil {
		return "", fmt.Errorf("exchange credential: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("exchange credential: %s returned %s", p.cfg.TokenURL, resp.Status())
	}
	if strings.TrimSpace(result.Token) == "" {
		return "", fmt.Errorf("exchange credential: empty token from %s", p.cfg.TokenURL)
	}

	ttl := time.Duration(result.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	p.cached = result.Token
	// Refresh slightly early so a token never expires mid-connect.
	p.expiry = time.Now().Add(ttl - 30*time.Second)
	return p.cached, nil
}
