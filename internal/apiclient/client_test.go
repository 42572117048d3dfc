// Package apiclient_test tests the service API client.
package apiclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/voiceclone-service/internal/apiclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func newServiceStub(t *testing.T) (*httptest.Server, *map[string]string) {
	t.Helper()

	seen := make(map[string]string)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		seen["authorization"] = r.Header.Get("Authorization")

		var req apiclient.SpeechRequest

		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen["input"] = req.Input
		seen["voice"] = req.Voice

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFfake"))
	})

	mux.HandleFunc("GET /v1/voices", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]string{"voices": {"alice", "bob"}})
	})

	mux.HandleFunc("POST /v1/voices/{voice}/reload", func(w http.ResponseWriter, r *http.Request) {
		seen["reloaded"] = r.PathValue("voice")

		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /v1/voices/reload", func(w http.ResponseWriter, _ *http.Request) {
		seen["reload-all"] = "yes"

		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, &seen
}

func TestClient_Synthesize(t *testing.T) {
	t.Parallel()

	server, seen := newServiceStub(t)
	client := apiclient.New(server.URL, "secret-key", testTimeout)

	audio, contentType, err := client.Synthesize(context.Background(), apiclient.SpeechRequest{
		Input: "hello",
		Voice: "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("RIFFfake"), audio)
	assert.Equal(t, "audio/wav", contentType)
	assert.Equal(t, "Bearer secret-key", (*seen)["authorization"])
	assert.Equal(t, "hello", (*seen)["input"])
	assert.Equal(t, "alice", (*seen)["voice"])
}

func TestClient_SynthesizeErrorDetailSurfaced(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "unknown voice \"ghost\""})
	}))
	defer server.Close()

	client := apiclient.New(server.URL, "", testTimeout)

	_, _, err := client.Synthesize(context.Background(), apiclient.SpeechRequest{
		Input: "hello",
		Voice: "ghost",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown voice")
}

func TestClient_EmptyAudioRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := apiclient.New(server.URL, "", testTimeout)

	_, _, err := client.Synthesize(context.Background(), apiclient.SpeechRequest{
		Input: "hello",
		Voice: "alice",
	})
	assert.ErrorIs(t, err, apiclient.ErrEmptyAudio)
}

func TestClient_ListVoices(t *testing.T) {
	t.Parallel()

	server, _ := newServiceStub(t)
	client := apiclient.New(server.URL, "", testTimeout)

	names, err := client.ListVoices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)
}

func TestClient_ReloadEndpoints(t *testing.T) {
	t.Parallel()

	server, seen := newServiceStub(t)
	client := apiclient.New(server.URL, "", testTimeout)

	require.NoError(t, client.ReloadVoice(context.Background(), "alice"))
	assert.Equal(t, "alice", (*seen)["reloaded"])

	require.NoError(t, client.ReloadAll(context.Background()))
	assert.Equal(t, "yes", (*seen)["reload-all"])
}

func TestClient_HealthCheck(t *testing.T) {
	t.Parallel()

	server, _ := newServiceStub(t)
	client := apiclient.New(server.URL, "", testTimeout)

	assert.NoError(t, client.HealthCheck(context.Background()))
}
