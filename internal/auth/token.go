package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// ErrAuthConfig indicates the cloud client credentials are not configured
var ErrAuthConfig = errors.New("client id or client secret not configured")

// TokenManagerConfig holds configuration for the token manager
type TokenManagerConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	SafetyMargin time.Duration
	Timeout      time.Duration
}

// tokenEntry is one cached token for a scope set. Entries are replaced on
// expiry, never mutated in place.
type tokenEntry struct {
	token     string
	expiresAt time.Time
}

// TokenManager obtains and caches OAuth client-credentials tokens per scope set
type TokenManager struct {
	config     TokenManagerConfig
	httpClient *http.Client
	logger     *logrus.Entry

	mu     sync.Mutex
	tokens map[string]tokenEntry

	now func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(config TokenManagerConfig, logger *logrus.Entry) *TokenManager {
	if config.SafetyMargin <= 0 {
		config.SafetyMargin = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &TokenManager{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
		tokens:     make(map[string]tokenEntry),
		now:        time.Now,
	}
}

// ScopesFor computes the OAuth scope set for a building and group
func ScopesFor(buildingID, groupID string) []string {
	return []string{
		"application/inventory",
		fmt.Sprintf("callgiving/group:%s:%s", strings.TrimPrefix(buildingID, "building:"), groupID),
	}
}

// AccessToken returns a cached token for the building/group scope set,
// fetching a new one when missing or expired.
func (m *TokenManager) AccessToken(ctx context.Context, buildingID, groupID string) (string, error) {
	if m.config.ClientID == "" || m.config.ClientSecret == "" {
		return "", ErrAuthConfig
	}

	scopes := ScopesFor(buildingID, groupID)
	scopeKey := strings.Join(scopes, " ")

	m.mu.Lock()
	entry, ok := m.tokens[scopeKey]
	m.mu.Unlock()

	if ok && m.now().Before(entry.expiresAt) {
		return entry.token, nil
	}

	token, expiresAt, err := m.fetchToken(ctx, scopes)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.tokens[scopeKey] = tokenEntry{token: token, expiresAt: expiresAt}
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"scope":      scopeKey,
		"expires_at": expiresAt.Format(time.RFC3339),
	}).Debug("Access token refreshed")

	return token, nil
}

// tokenResponse is the OAuth token endpoint response
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// fetchToken performs a client-credentials token fetch
func (m *TokenManager) fetchToken(ctx context.Context, scopes []string) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", strings.Join(scopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(m.config.ClientID, m.config.ClientSecret)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token endpoint returned empty access_token")
	}

	expiresAt := m.expiryFor(tr)

	return tr.AccessToken, expiresAt, nil
}

// expiryFor derives the cache expiry for a token response. When expires_in is
// absent the token's own exp claim is used instead.
func (m *TokenManager) expiryFor(tr tokenResponse) time.Time {
	if tr.ExpiresIn > 0 {
		return m.now().Add(time.Duration(tr.ExpiresIn)*time.Second - m.config.SafetyMargin)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time.Add(-m.config.SafetyMargin)
		}
	}

	// No expiry information at all: keep the token for a conservative minute
	return m.now().Add(time.Minute)
}
