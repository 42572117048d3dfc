// Package httpapi exposes the voice-cloning service over an OpenAI-compatible
// HTTP surface, so standard text-to-speech clients work unmodified.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/manager"
	"github.com/book-expert/voiceclone-service/internal/textproc"
	"github.com/book-expert/voiceclone-service/internal/transcode"
	"github.com/book-expert/voiceclone-service/internal/voice"
)

const (
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
)

const serviceName = "voiceclone-service"

// Model identifiers accepted for OpenAI client compatibility. They all map to
// the single loaded model.
var compatibleModels = []string{"qwen3-tts", "tts-1", "tts-1-hd"}

// SpeechRequest is the OpenAI-style synthesis request body.
type SpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
	Language       string  `json:"language"`
}

// Server serves the public HTTP API.
type Server struct {
	voices          core.VoiceService
	encoder         *transcode.Encoder
	normalizer      *textproc.Normalizer
	keyring         *Keyring
	defaultLanguage string
	log             *logger.Logger
}

// NewServer wires the API around a voice service.
func NewServer(
	voices core.VoiceService,
	encoder *transcode.Encoder,
	keyring *Keyring,
	defaultLanguage string,
	log *logger.Logger,
) *Server {
	return &Server{
		voices:          voices,
		encoder:         encoder,
		normalizer:      textproc.NewNormalizer(),
		keyring:         keyring,
		defaultLanguage: defaultLanguage,
		log:             log,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/models", s.requireKey(s.handleModels))
	mux.HandleFunc("GET /v1/voices", s.requireKey(s.handleVoices))
	mux.HandleFunc("POST /v1/audio/speech", s.requireKey(s.handleSpeech))
	mux.HandleFunc("GET /v1/audio/speech", s.requireKey(s.handleSpeechQuery))
	mux.HandleFunc("POST /v1/voices/{voice}/reload", s.requireKey(s.handleReloadVoice))
	mux.HandleFunc("POST /v1/voices/reload", s.requireKey(s.handleReloadAll))

	return mux
}

// ListenAndServe runs the API server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		// Synthesis can take minutes; the write timeout must cover it.
		WriteTimeout: writeTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errChan := make(chan error, 1)

	go func() {
		errChan <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		if err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}

		return nil
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	}
}

// requireKey enforces bearer-key authentication when the keyring is enabled.
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.keyring.Enabled() {
			next(w, r)

			return
		}

		key := strings.TrimPrefix(r.Header.Get(headerAuthorization), bearerPrefix)
		if !s.keyring.Allow(key) {
			s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")

			return
		}

		next(w, r)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"service": serviceName,
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}

	models := make([]modelEntry, 0, len(compatibleModels))
	for _, id := range compatibleModels {
		models = append(models, modelEntry{
			ID:      id,
			Object:  "model",
			OwnedBy: serviceName,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   models,
	})
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	names, err := s.voices.ListVoices()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	if names == nil {
		names = []string{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"voices": names})
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req SpeechRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())

		return
	}

	s.synthesize(w, r, req)
}

// handleSpeechQuery serves the GET variant for clients that stream audio from
// a URL, with the request fields in query parameters.
func (s *Server) handleSpeechQuery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	req := SpeechRequest{
		Model:          query.Get("model"),
		Input:          query.Get("input"),
		Voice:          query.Get("voice"),
		ResponseFormat: query.Get("response_format"),
		Speed:          1.0,
		Language:       query.Get("language"),
	}

	s.synthesize(w, r, req)
}

func (s *Server) synthesize(w http.ResponseWriter, r *http.Request, req SpeechRequest) {
	format, err := s.resolveFormat(req.ResponseFormat)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	text, err := s.normalizer.Normalize(req.Input)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	if text == "" {
		s.writeError(w, http.StatusBadRequest, "input text is required")

		return
	}

	voiceName := req.Voice
	if !s.voiceExists(voiceName) {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unknown voice %q; see /v1/voices", voiceName))

		return
	}

	language := req.Language
	if language == "" {
		language = s.defaultLanguage
	}

	speech, err := s.voices.Synthesize(r.Context(), text, voiceName, language)
	if err != nil {
		s.writeSynthesisError(w, err)

		return
	}

	data, contentType, err := s.encoder.Encode(r.Context(), speech, format)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "audio encoding failed: "+err.Error())

		return
	}

	w.Header().Set(headerContentType, contentType)
	w.WriteHeader(http.StatusOK)

	_, err = w.Write(data)
	if err != nil {
		s.log.Warn("Failed to write audio response: %v", err)
	}
}

func (s *Server) handleReloadVoice(w http.ResponseWriter, r *http.Request) {
	voiceName := r.PathValue("voice")

	err := voice.ValidName(voiceName)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	err = s.voices.ReloadVoice(r.Context(), voiceName)
	if err != nil {
		s.writeSynthesisError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "reloaded",
		"voice":  voiceName,
	})
}

// handleReloadAll clears the prompt cache and re-reads the API keys file, so
// operators can rotate voices and keys without a restart.
func (s *Server) handleReloadAll(w http.ResponseWriter, _ *http.Request) {
	s.voices.ClearVoiceCache()

	if s.keyring.Enabled() {
		err := s.keyring.Reload()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "cache cleared but key reload failed: "+err.Error())

			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) resolveFormat(requested string) (transcode.Format, error) {
	if requested == "" {
		return transcode.FormatWAV, nil
	}

	format, err := transcode.ParseFormat(requested)
	if err != nil {
		return "", fmt.Errorf("invalid response_format: %w", err)
	}

	return format, nil
}

func (s *Server) voiceExists(name string) bool {
	if voice.ValidName(name) != nil {
		return false
	}

	names, err := s.voices.ListVoices()
	if err != nil {
		s.log.Warn("Failed to list voices during request validation: %v", err)

		return false
	}

	return slices.Contains(names, name)
}

// writeSynthesisError maps voice-service errors to HTTP statuses.
func (s *Server) writeSynthesisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrEmptyText):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, voice.ErrVoiceFileMissing), errors.Is(err, voice.ErrInvalidVoiceName):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		s.log.Warn("Failed to encode JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}
