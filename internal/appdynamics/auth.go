package appdynamics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/config"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/metrics"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

// TokenSource manages the controller OAuth2 client-credentials token. A token
// is treated as expired once its remaining lifetime drops below the
// configured buffer, so collection calls never ride a token about to lapse.
// Concurrent refreshes collapse into a single upstream request.
type TokenSource struct {
	cfg        config.AppDynamicsConfig
	httpClient *http.Client
	logger     *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewTokenSource constructs a TokenSource. A nil client defaults to a client
// bounded by the configured timeout.
func NewTokenSource(cfg config.AppDynamicsConfig, httpClient *http.Client, logger *slog.Logger) *TokenSource {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenSource{cfg: cfg, httpClient: httpClient, logger: logger}
}

// Token returns a valid bearer token, refreshing through the single-flight
// group when the cached one is missing or inside the expiry buffer.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	if t == nil {
		return "", utils.ErrNotConfigured
	}
	if !t.cfg.Configured() {
		return "", fmt.Errorf("appdynamics credentials missing: %w", utils.ErrNotConfigured)
	}

	if token, ok := t.cached(); ok {
		return token, nil
	}

	value, err, _ := t.group.Do("token", func() (any, error) {
		// Re-check under the flight: the winner may have refreshed already.
		if token, ok := t.cached(); ok {
			return token, nil
		}
		return t.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// EnsureFresh refreshes the token when it is absent or within the buffer.
// The token maintenance task calls this on its own cadence.
func (t *TokenSource) EnsureFresh(ctx context.Context) error {
	_, err := t.Token(ctx)
	return err
}

// Invalidate drops the cached token so the next call refreshes.
func (t *TokenSource) Invalidate() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.token = ""
	t.expiresAt = time.Time{}
	t.mu.Unlock()
}

// Info describes the cached token for the health surface without exposing it.
func (t *TokenSource) Info() models.TokenInfo {
	if t == nil {
		return models.TokenInfo{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	info := models.TokenInfo{
		Configured: t.cfg.Configured(),
		HasToken:   t.token != "",
	}
	if t.token != "" {
		info.ExpiresAt = t.expiresAt
		remaining := time.Until(t.expiresAt)
		if remaining > 0 {
			info.SecondsUntilExpiry = int64(remaining.Seconds())
		}
	}
	return info
}

func (t *TokenSource) cached() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.token == "" {
		return "", false
	}
	if time.Until(t.expiresAt) <= t.cfg.ExpiryBuffer {
		return "", false
	}
	return t.token, true
}

func (t *TokenSource) refresh(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if t.cfg.Scope != "" {
		form.Set("scope", t.cfg.Scope)
	}

	endpoint := strings.TrimRight(t.cfg.ControllerURL, "/") + t.cfg.TokenPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.username(), t.cfg.ClientSecret)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		metrics.ObserveTokenRefresh(metrics.OutcomeError)
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.ObserveTokenRefresh(metrics.OutcomeError)
		return "", fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		metrics.ObserveTokenRefresh(metrics.OutcomeError)
		return "", fmt.Errorf("token endpoint returned %d: %w", resp.StatusCode, utils.ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveTokenRefresh(metrics.OutcomeError)
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.ObserveTokenRefresh(metrics.OutcomeError)
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		metrics.ObserveTokenRefresh(metrics.OutcomeError)
		return "", fmt.Errorf("token endpoint returned empty access_token")
	}

	expiresIn := payload.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 300
	}
	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second)

	t.mu.Lock()
	t.token = payload.AccessToken
	t.expiresAt = expiresAt
	t.mu.Unlock()

	metrics.ObserveTokenRefresh(metrics.OutcomeSuccess)
	t.logger.Debug("appdynamics token refreshed", "expiresAt", expiresAt)
	return payload.AccessToken, nil
}

// username follows the controller convention of scoping the API client to its
// account.
func (t *TokenSource) username() string {
	if t.cfg.AccountName == "" {
		return t.cfg.ClientID
	}
	return t.cfg.ClientID + "@" + t.cfg.AccountName
}
