// Package httpapi_test tests the public HTTP API.
package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/httpapi"
	"github.com/book-expert/voiceclone-service/internal/transcode"
	"github.com/book-expert/voiceclone-service/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSynthBroken = errors.New("synthesis broke")

// stubVoiceService is a scriptable core.VoiceService.
type stubVoiceService struct {
	voiceNames    []string
	failSynthesis error
	lastText      string
	lastVoice     string
	lastLanguage  string
	reloaded      []string
	cleared       bool
}

func (s *stubVoiceService) ListVoices() ([]string, error) {
	return s.voiceNames, nil
}

func (s *stubVoiceService) Synthesize(
	_ context.Context, text, voiceName, language string,
) (core.Speech, error) {
	if s.failSynthesis != nil {
		return core.Speech{Samples: nil, SampleRate: 0}, s.failSynthesis
	}

	s.lastText = text
	s.lastVoice = voiceName
	s.lastLanguage = language

	return core.Speech{
		Samples:    []float32{0.1, -0.1},
		SampleRate: 24000,
	}, nil
}

func (s *stubVoiceService) ReloadVoice(_ context.Context, name string) error {
	s.reloaded = append(s.reloaded, name)

	if name == "ghost" {
		return voice.ErrVoiceFileMissing
	}

	return nil
}

func (s *stubVoiceService) ClearVoiceCache() {
	s.cleared = true
}

func newTestServer(t *testing.T, voices *stubVoiceService, keysPath string) *httptest.Server {
	t.Helper()

	log, err := logger.New(t.TempDir(), "httpapi-test.log")
	require.NoError(t, err)

	keyring, err := httpapi.NewKeyring(keysPath, log)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, keyring.Close())
	})

	server := httpapi.NewServer(voices, transcode.NewEncoder("ffmpeg"), keyring, "Auto", log)

	testServer := httptest.NewServer(server.Handler())
	t.Cleanup(testServer.Close)

	return testServer
}

func postSpeech(t *testing.T, url string, req httpapi.SpeechRequest) *http.Response {
	t.Helper()

	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(url+"/v1/audio/speech", "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	return resp
}

func decodeDetail(t *testing.T, resp *http.Response) string {
	t.Helper()

	var payload map[string]string

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	return payload["detail"]
}

func TestSpeech_ReturnsWAVByDefault(t *testing.T) {
	t.Parallel()

	voices := &stubVoiceService{voiceNames: []string{"alice"}}
	testServer := newTestServer(t, voices, "")

	resp := postSpeech(t, testServer.URL, httpapi.SpeechRequest{
		Model: "tts-1",
		Input: "Hello   there",
		Voice: "alice",
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))

	assert.Equal(t, "Hello there", voices.lastText, "input must be normalized")
	assert.Equal(t, "alice", voices.lastVoice)
	assert.Equal(t, "Auto", voices.lastLanguage, "missing language falls back to the default")
}

func TestSpeech_GETVariant(t *testing.T) {
	t.Parallel()

	voices := &stubVoiceService{voiceNames: []string{"alice"}}
	testServer := newTestServer(t, voices, "")

	resp, err := http.Get(testServer.URL + "/v1/audio/speech?input=hi&voice=alice&language=English")
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "English", voices.lastLanguage)
}

func TestSpeech_BlankInputRejected(t *testing.T) {
	t.Parallel()

	voices := &stubVoiceService{voiceNames: []string{"alice"}}
	testServer := newTestServer(t, voices, "")

	resp := postSpeech(t, testServer.URL, httpapi.SpeechRequest{
		Input: "   \n ",
		Voice: "alice",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeDetail(t, resp), "input text is required")
}

func TestSpeech_UnknownVoiceRejected(t *testing.T) {
	t.Parallel()

	voices := &stubVoiceService{voiceNames: []string{"alice"}}
	testServer := newTestServer(t, voices, "")

	resp := postSpeech(t, testServer.URL, httpapi.SpeechRequest{
		Input: "hello",
		Voice: "nobody",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeDetail(t, resp), "unknown voice")
}

func TestSpeech_BadFormatRejected(t *testing.T) {
	t.Parallel()

	voices := &stubVoiceService{voiceNames: []string{"alice"}}
	testServer := newTestServer(t, voices, "")

	resp := postSpeech(t, testServer.URL, httpapi.SpeechRequest{
		Input:          "hello",
		Voice:          "alice",
		ResponseFormat: "ogg",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSpeech_MissingVoiceFilesMapTo404(t *testing.T) {
	t.Parallel()

	voices := &stubVoiceService{
		voiceNames:    []string{"alice"},
		failSynthesis: voice.ErrVoiceFileMissing,
	}
	testServer := newTestServer(t, voices, "")

	resp := postSpeech(t, testServer.URL, httpapi.SpeechRequest{
		Input: "hello",
		Voice: "alice",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSpeech_EngineFailureMapsTo500(t *testing.T) {
	t.Parallel()

	voices := &stubVoiceService{
		voiceNames:    []string{"alice"},
		failSynthesis: errSynthBroken,
	}
	testServer := newTestServer(t, voices, "")

	resp := postSpeech(t, testServer.URL, httpapi.SpeechRequest{
		Input: "hello",
		Voice: "alice",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, decodeDetail(t, resp), "synthesis broke")
}

func TestModelsAndVoicesEndpoints(t *testing.T) {
	t.Parallel()

	voices := &stubVoiceService{voiceNames: []string{"alice", "bob"}}
	testServer := newTestServer(t, voices, "")

	resp, err := http.Get(testServer.URL + "/v1/models")
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var modelList struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&modelList))

	ids := make([]string, 0, len(modelList.Data))
	for _, entry := range modelList.Data {
		ids = append(ids, entry.ID)
	}

	assert.ElementsMatch(t, []string{"qwen3-tts", "tts-1", "tts-1-hd"}, ids)

	voicesResp, err := http.Get(testServer.URL + "/v1/voices")
	require.NoError(t, err)

	defer voicesResp.Body.Close()

	var voiceList struct {
		Voices []string `json:"voices"`
	}

	require.NoError(t, json.NewDecoder(voicesResp.Body).Decode(&voiceList))
	assert.Equal(t, []string{"alice", "bob"}, voiceList.Voices)
}

func TestReloadVoiceEndpoint(t *testing.T) {
	t.Parallel()

	voices := &stubVoiceService{voiceNames: []string{"alice"}}
	testServer := newTestServer(t, voices, "")

	resp, err := http.Post(testServer.URL+"/v1/voices/alice/reload", "application/json", http.NoBody)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"alice"}, voices.reloaded)

	ghostResp, err := http.Post(testServer.URL+"/v1/voices/ghost/reload", "application/json", http.NoBody)
	require.NoError(t, err)

	defer ghostResp.Body.Close()

	assert.Equal(t, http.StatusNotFound, ghostResp.StatusCode)
}

func TestReloadAllEndpoint(t *testing.T) {
	t.Parallel()

	voices := &stubVoiceService{voiceNames: []string{"alice"}}
	testServer := newTestServer(t, voices, "")

	resp, err := http.Post(testServer.URL+"/v1/voices/reload", "application/json", http.NoBody)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, voices.cleared)
}

func TestAuth_EnforcedWhenKeysFileExists(t *testing.T) {
	t.Parallel()

	keysPath := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(keysPath, []byte(`["secret-key"]`), 0o600))

	voices := &stubVoiceService{voiceNames: []string{"alice"}}
	testServer := newTestServer(t, voices, keysPath)

	// No key.
	resp, err := http.Get(testServer.URL + "/v1/voices")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong key.
	req, err := http.NewRequestWithContext(
		context.Background(), http.MethodGet, testServer.URL+"/v1/voices", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct key.
	req.Header.Set("Authorization", "Bearer secret-key")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open regardless of auth.
	healthResp, err := http.Get(testServer.URL + "/health")
	require.NoError(t, err)
	healthResp.Body.Close()
	assert.Equal(t, http.StatusOK, healthResp.StatusCode)
}

func TestAuth_DisabledWhenKeysFileAbsent(t *testing.T) {
	t.Parallel()

	keysPath := filepath.Join(t.TempDir(), "keys.json")

	voices := &stubVoiceService{voiceNames: []string{"alice"}}
	testServer := newTestServer(t, voices, keysPath)

	resp, err := http.Get(testServer.URL + "/v1/voices")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
