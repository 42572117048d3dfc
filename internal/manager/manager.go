// Package manager owns the single loaded model instance and the voice prompt
// cache, and serializes every call into the model.
//
// The model handle is not safe for concurrent inference, so prompt
// construction and speech generation for all callers queue behind one mutex.
// This is the service's central concurrency invariant: at most one model call
// is in flight process-wide.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/voice"
)

// Static errors.
var (
	// ErrEmptyText indicates blank input rejected before any model work.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrSynthesisFailed wraps model failures during prompt build or generation.
	ErrSynthesisFailed = errors.New("synthesis failed")
)

// Manager composes the loaded model and the prompt cache behind the public
// voice-service operations. Construct exactly one per process and pass it by
// reference; it lives until process exit.
type Manager struct {
	handle    core.ModelHandle
	cache     *voice.PromptCache
	voicesDir string
	log       *logger.Logger

	// inference serializes every call into the model, for all voices.
	inference sync.Mutex
}

// Compile-time interface assertion.
var _ core.VoiceService = (*Manager)(nil)

// New creates a Manager around an already-loaded model handle.
func New(handle core.ModelHandle, voicesDir string, log *logger.Logger) *Manager {
	return &Manager{
		handle:    handle,
		cache:     voice.NewPromptCache(voicesDir, handle, log),
		voicesDir: voicesDir,
		log:       log,
		inference: sync.Mutex{},
	}
}

// Handle exposes the loaded model's identity for health reporting.
func (m *Manager) Handle() core.ModelHandle {
	return m.handle
}

// ListVoices returns the names of all valid voices currently on disk.
func (m *Manager) ListVoices() ([]string, error) {
	names, err := voice.List(m.voicesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}

	return names, nil
}

// Synthesize generates speech for text using the named voice. Blank text is
// rejected before the serialization lock is taken. The lock is held across
// the cache lookup-or-build and the generation call, and released on every
// exit path. The samples are returned exactly as the model produced them.
func (m *Manager) Synthesize(ctx context.Context, text, voiceName, language string) (core.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return core.Speech{Samples: nil, SampleRate: 0}, ErrEmptyText
	}

	err := voice.ValidName(voiceName)
	if err != nil {
		return core.Speech{Samples: nil, SampleRate: 0}, err
	}

	m.inference.Lock()
	defer m.inference.Unlock()

	prompt, err := m.cache.GetOrBuild(ctx, voiceName, false)
	if err != nil {
		return core.Speech{Samples: nil, SampleRate: 0}, err
	}

	speech, err := m.handle.Generate(ctx, text, language, prompt.Artifact)
	if err != nil {
		return core.Speech{Samples: nil, SampleRate: 0}, fmt.Errorf(
			"%w: voice %q: %w", ErrSynthesisFailed, voiceName, err,
		)
	}

	return speech, nil
}

// ReloadVoice eagerly rebuilds the prompt for name. The rebuild is a model
// call and therefore takes the serialization lock.
func (m *Manager) ReloadVoice(ctx context.Context, name string) error {
	err := voice.ValidName(name)
	if err != nil {
		return err
	}

	m.inference.Lock()
	defer m.inference.Unlock()

	_, err = m.cache.Invalidate(ctx, name)
	if err != nil {
		return err
	}

	m.log.Info("Voice %q reloaded", name)

	return nil
}

// ClearVoiceCache drops every built prompt. The loaded model is unaffected;
// subsequent synthesis rebuilds prompts on demand.
func (m *Manager) ClearVoiceCache() {
	m.cache.Clear()
	m.log.Info("Voice prompt cache cleared")
}

// CachedVoices returns the names with built prompts, for diagnostics.
func (m *Manager) CachedVoices() []string {
	return m.cache.Cached()
}

// PrecacheAll builds prompts for every voice on disk. Individual failures are
// logged and skipped so one broken voice never blocks startup; each build
// takes the serialization lock on its own rather than holding it across the
// whole phase.
func (m *Manager) PrecacheAll(ctx context.Context) {
	names, err := m.ListVoices()
	if err != nil {
		m.log.Warn("Precache skipped, could not list voices: %v", err)

		return
	}

	m.log.Info("Precaching %d voice(s)", len(names))

	for _, name := range names {
		buildErr := m.precacheOne(ctx, name)
		if buildErr != nil {
			m.log.Warn("Could not precache voice %q: %v", name, buildErr)
		}
	}
}

func (m *Manager) precacheOne(ctx context.Context, name string) error {
	m.inference.Lock()
	defer m.inference.Unlock()

	_, err := m.cache.GetOrBuild(ctx, name, false)

	return err
}
