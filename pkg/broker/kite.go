// Package broker is a thin client for the Kite Connect login flow.
package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const kiteVersion = "3"

// APIError is an error envelope returned by the Kite API
type APIError struct {
	Status    int    `json:"-"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kite %d %s: %s", e.Status, e.ErrorType, e.Message)
}

// IsTokenError reports whether the access token was rejected
func IsTokenError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorType == "TokenException" || apiErr.Status == http.StatusForbidden)
}

type Client struct {
	http     *http.Client
	apiBase  string
	loginURL string
}

func NewClient(apiBase, loginURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		apiBase:  strings.TrimRight(apiBase, "/"),
		loginURL: loginURL,
	}
}

// LoginURL is where the user authorizes the app. Kite hands redirect_params
// back to the callback, which is how the state comes home.
func (c *Client) LoginURL(apiKey, state string) string {
	q := url.Values{}
	q.Set("v", kiteVersion)
	q.Set("api_key", apiKey)
	if state != "" {
		q.Set("redirect_params", url.Values{"state": {state}}.Encode())
	}
	return c.loginURL + "?" + q.Encode()
}

// Checksum signs a token exchange
func Checksum(apiKey, requestToken, apiSecret string) string {
	sum := sha256.Sum256([]byte(apiKey + requestToken + apiSecret))
	return hex.EncodeToString(sum[:])
}

// ExchangeToken trades a request token for a session. The decoded response is
// returned as-is so the session store can pick the fields it knows.
func (c *Client) ExchangeToken(ctx context.Context, apiKey, apiSecret, requestToken string) (map[string]any, error) {
	form := url.Values{}
	form.Set("api_key", apiKey)
	form.Set("request_token", requestToken)
	form.Set("checksum", Checksum(apiKey, requestToken, apiSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/session/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// Profile fetches the user profile, which doubles as a token validity check
func (c *Client) Profile(ctx context.Context, apiKey, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/user/profile", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "token "+apiKey+":"+accessToken)
	return c.do(req)
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	req.Header.Set("X-Kite-Version", kiteVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kite request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read kite response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode kite response: %w", err)
	}
	return out, nil
}
