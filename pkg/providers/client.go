package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

const userAgent = "Crypto-Insight-Go/1.0"

// errUnsupported is returned for operations outside a provider's capabilities.
var errUnsupported = errors.New("operation not supported by provider")

// Client is the HTTP plumbing shared by every provider.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	name       string
	headers    map[string]string
}

// NewClient creates a client for the named provider.
func NewClient(name string, cfg config.ProviderConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		BaseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		name:    name,
		headers: make(map[string]string),
	}
}

// SetHeader adds a header sent with every request.
func (c *Client) SetHeader(key, value string) {
	if value != "" {
		c.headers[key] = value
	}
}

// getJSON performs a GET and decodes the body into result. It returns the
// HTTP status (zero when no response arrived) and a typed error: 429 maps
// to RateLimitExceeded, other failures to ProviderError.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, result interface{}) (int, error) {
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, utils.NewProviderError(c.name, 0, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, utils.NewProviderError(c.name, 0, fmt.Errorf("failed to make request: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, &utils.RateLimitExceeded{
			Provider:   c.name,
			Remote:     true,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, utils.NewProviderError(c.name, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, utils.NewProviderError(c.name, resp.StatusCode, errors.New(truncate(string(respBody), 200)))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, utils.NewProviderError(c.name, resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err))
		}
	}

	return resp.StatusCode, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// failure converts an error from getJSON into a failed result.
func failure[T any](name string, status int, err error) models.ProviderResult[T] {
	return models.Failure[T](name, err, status)
}

// missingID is the failure returned when identity has no id for this provider.
func missingID[T any](name string) models.ProviderResult[T] {
	return models.Failure[T](name, utils.NewProviderError(name, 0, errors.New("identity has no id for this provider")), 0)
}

func timeFromMillis(ms float64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}
