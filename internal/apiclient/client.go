// Package apiclient provides a Go client for the voice-cloning service's
// public HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// API endpoints.
const (
	apiSpeech      = "/v1/audio/speech"
	apiVoices      = "/v1/voices"
	apiReloadAll   = "/v1/voices/reload"
	apiReloadVoice = "/v1/voices/%s/reload"
	apiHealth      = "/health"
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
)

// ErrEmptyAudio indicates the service returned a success status with no body.
var ErrEmptyAudio = errors.New("received empty audio data")

// SpeechRequest mirrors the service's OpenAI-style synthesis request.
type SpeechRequest struct {
	Model          string  `json:"model,omitempty"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
	Language       string  `json:"language,omitempty"`
}

// errorResponse is the service's structured error body.
type errorResponse struct {
	Detail string `json:"detail"`
}

// Client talks to a running voice-cloning service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New creates a client for the service at baseURL. apiKey may be empty when
// the service runs without authentication. The timeout applies to every
// request, including synthesis.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize requests speech for the given text and returns the encoded audio
// bytes together with the response content type.
func (c *Client) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, string, error) {
	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+apiSpeech, bytes.NewReader(requestBody))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("failed to send request to service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", c.parseErrorResponse(resp)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, "", ErrEmptyAudio
	}

	return audioData, resp.Header.Get(headerContentType), nil
}

// ListVoices returns the names of all available voices.
func (c *Client) ListVoices(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.baseURL+apiVoices, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to list voices from service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var payload struct {
		Voices []string `json:"voices"`
	}

	err = json.NewDecoder(resp.Body).Decode(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode voices response: %w", err)
	}

	return payload.Voices, nil
}

// ReloadVoice asks the service to rebuild one voice's cached prompt.
func (c *Client) ReloadVoice(ctx context.Context, voiceName string) error {
	return c.post(ctx, fmt.Sprintf(apiReloadVoice, voiceName))
}

// ReloadAll asks the service to clear its prompt cache and re-read its keys.
func (c *Client) ReloadAll(ctx context.Context) error {
	return c.post(ctx, apiReloadAll)
}

// HealthCheck verifies the service is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string) error {
	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set(headerAuthorization, "Bearer "+c.apiKey)
	}
}

// parseErrorResponse decodes a structured service error, falling back to the
// raw body so diagnostics are never lost.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp errorResponse

	err := json.NewDecoder(resp.Body).Decode(&errResp)
	if err == nil && errResp.Detail != "" {
		return fmt.Errorf("service error (%s): %s", resp.Status, errResp.Detail)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("service returned non-OK status: %s, body: %s", resp.Status, string(body))
}
