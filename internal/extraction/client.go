// Package extraction talks to the external document-understanding service
// and reads its persisted response envelope back out of blob storage.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client sends a prepared extraction request to the document-understanding
// service and returns its raw response document. TemplateKey names the
// blob holding the stored request template the caller renders.
type Client interface {
	Extract(ctx context.Context, requestBody []byte) (json.RawMessage, error)
	TemplateKey() string
}

type httpClient struct {
	endpoint    string
	apiKey      string
	templateKey string
	http        *http.Client
	logger      *slog.Logger
}

// NewClient creates an HTTP extraction client. The request body is a stored
// template rendered by the caller; the client only authenticates and posts it.
func NewClient(cfg *Config, logger *slog.Logger) Client {
	return &httpClient{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		templateKey: cfg.TemplateKey,
		http:        &http.Client{Timeout: cfg.TimeoutDuration()},
		logger:      logger.With("system", "extraction"),
	}
}

func (c *httpClient) TemplateKey() string {
	return c.templateKey
}

func (c *httpClient) Extract(ctx context.Context, requestBody []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call extraction service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read extraction response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction service status %d: %s", resp.StatusCode, body)
	}

	c.logger.Info("extraction call complete", "duration", time.Since(start))

	if !json.Valid(body) {
		return nil, fmt.Errorf("extraction service returned non-JSON body")
	}
	return json.RawMessage(body), nil
}

// RenderTemplate substitutes the {{FILE_URL}} placeholder in a stored
// request template and verifies the result parses as JSON.
func RenderTemplate(template string, fileURL string) ([]byte, error) {
	rendered := strings.ReplaceAll(template, "{{FILE_URL}}", fileURL)
	if !json.Valid([]byte(rendered)) {
		return nil, fmt.Errorf("rendered extraction template is not valid JSON")
	}
	return []byte(rendered), nil
}
