package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

// AIProvider generates free-text completions.
type AIProvider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const ollamaTemperature = 0.7

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllamaClient creates a client for cfg.BaseURL.
func NewOllamaClient(cfg config.AIConfig) *OllamaClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OllamaClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
	}
}

// Generate runs a non-streaming completion. Every failure is reported as
// an AIUnavailableError.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: ollamaOptions{Temperature: ollamaTemperature},
	})
	if err != nil {
		return "", &utils.AIUnavailableError{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &utils.AIUnavailableError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &utils.AIUnavailableError{Err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &utils.AIUnavailableError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &utils.AIUnavailableError{Err: fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, truncateText(string(respBody), 200))}
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", &utils.AIUnavailableError{Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	if out.Error != "" {
		return "", &utils.AIUnavailableError{Err: errors.New(out.Error)}
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", &utils.AIUnavailableError{Err: errors.New("empty response")}
	}
	return text, nil
}

// Ping checks that the server is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &utils.AIUnavailableError{Err: err}
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &utils.AIUnavailableError{Err: fmt.Errorf("ollama returned status %d", resp.StatusCode)}
	}
	return nil
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
