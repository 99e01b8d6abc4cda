package main

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

	"github.com/book-expert/speech-service/internal/core"
)

const maxErrorBodyBytes = 4096

// errServiceStatus indicates a non-200 reply from the speech service.
var errServiceStatus = errors.New("speech service returned an error")

// serviceClient talks to the speech service HTTP API.
type serviceClient struct {
	httpClient *http.Client
	baseURL    string
}

func newServiceClient(baseURL string, timeout time.Duration) *serviceClient {
	return &serviceClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// synthesize posts request to /tts and returns the WAV body.
func (c *serviceClient) synthesize(ctx context.Context, request core.SpeechRequest) ([]byte, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach speech service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	wavData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	return wavData, nil
}

// health calls GET /health.
func (c *serviceClient) health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to reach speech service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	return nil
}

// statusError reports the service's "detail" message when it sent one.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var detail struct {
		Detail string `json:"detail"`
	}

	err := json.Unmarshal(body, &detail)
	if err == nil && detail.Detail != "" {
		return fmt.Errorf("%w: %s: %s", errServiceStatus, resp.Status, detail.Detail)
	}

	return fmt.Errorf("%w: %s", errServiceStatus, resp.Status)
}
