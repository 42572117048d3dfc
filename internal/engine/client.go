// Package engine adapts the external voice-cloning inference runtime to the
// core contracts. The runtime is a separate process that owns the neural
// network; this package spawns it with the requested device, precision and
// attention backend, and speaks its small HTTP API.
package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// Runtime API endpoints.
const (
	apiBuildPrompt    = "/v1/voice/prompt"
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

const bytesPerSample = 4

// Static errors.
var (
	ErrEmptyAudio        = errors.New("runtime returned empty audio")
	ErrInvalidSampleData = errors.New("runtime returned malformed sample data")
)

// Client is an HTTP client for the inference runtime process.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// promptRequest asks the runtime to build a voice-clone prompt from a
// server-local reference audio file and its transcript.
type promptRequest struct {
	AudioPath   string `json:"audio_path"`
	RefText     string `json:"ref_text"`
	XVectorOnly bool   `json:"x_vector_only"`
}

type promptResponse struct {
	PromptID string `json:"prompt_id"`
}

// generateRequest asks the runtime to synthesize speech with a previously
// built prompt.
type generateRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	PromptID string `json:"prompt_id"`
}

// generateResponse carries the raw model output: base64-encoded little-endian
// float32 samples plus the model's sample rate.
type generateResponse struct {
	SampleRate int    `json:"sample_rate"`
	Audio      string `json:"audio"`
}

// errorResponse is the runtime's structured error body.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewClient creates a client for the runtime at baseURL. The timeout applies
// to every request, including generation, which can run for minutes on CPU.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BuildPrompt asks the runtime to construct a voice-clone prompt and returns
// its runtime-side identifier.
func (c *Client) BuildPrompt(ctx context.Context, audioPath, transcript string, xVectorOnly bool) (string, error) {
	req := promptRequest{
		AudioPath:   audioPath,
		RefText:     transcript,
		XVectorOnly: xVectorOnly,
	}

	var resp promptResponse

	err := c.postJSON(ctx, apiBuildPrompt, req, &resp)
	if err != nil {
		return "", err
	}

	return resp.PromptID, nil
}

// Generate synthesizes speech and decodes the sample payload.
func (c *Client) Generate(ctx context.Context, text, language, promptID string) ([]float32, int, error) {
	req := generateRequest{
		Text:     text,
		Language: language,
		PromptID: promptID,
	}

	var resp generateResponse

	err := c.postJSON(ctx, apiGenerateSpeech, req, &resp)
	if err != nil {
		return nil, 0, err
	}

	if resp.Audio == "" {
		return nil, 0, ErrEmptyAudio
	}

	samples, err := decodeSamples(resp.Audio)
	if err != nil {
		return nil, 0, err
	}

	return samples, resp.SampleRate, nil
}

// HealthCheck verifies the runtime is up and has finished loading.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for runtime at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, target any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+path,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to runtime at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return fmt.Errorf("failed to decode runtime response: %w", err)
	}

	return nil
}

// parseErrorResponse decodes a structured runtime error, falling back to the
// raw body so diagnostics are never lost.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp errorResponse

	err := json.NewDecoder(resp.Body).Decode(&errResp)
	if err == nil && errResp.Detail != "" {
		return fmt.Errorf("runtime error (%s): %s (code: %s)",
			resp.Status, errResp.Detail, errResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("runtime returned non-OK status: %s, body: %s", resp.Status, string(body))
}

// decodeSamples converts base64-encoded little-endian float32 data to samples.
func decodeSamples(encoded string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSampleData, err)
	}

	if len(raw)%bytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of samples",
			ErrInvalidSampleData, len(raw))
	}

	samples := make([]float32, len(raw)/bytesPerSample)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*bytesPerSample:])
		samples[i] = math.Float32frombits(bits)
	}

	return samples, nil
}
