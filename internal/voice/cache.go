package voice

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
)

// Prompt is a built voice-clone prompt plus the bookkeeping needed to reason
// about staleness. Once built it is shared read-only; entries are replaced
// wholesale, never mutated.
type Prompt struct {
	Name          string
	BuiltAt       time.Time
	AudioModTime  time.Time
	TextModTime   time.Time
	Artifact      core.Prompt
	TranscriptLen int
}

// PromptCache maps voice names to built prompts. Map mutation is atomic with
// respect to concurrent readers; serializing the model calls that build the
// prompts is the resource manager's responsibility, not the cache's.
type PromptCache struct {
	dir     string
	model   core.ModelHandle
	log     *logger.Logger
	mu      sync.RWMutex
	prompts map[string]*Prompt
}

// NewPromptCache creates an empty cache over the given voices directory and
// model handle.
func NewPromptCache(dir string, model core.ModelHandle, log *logger.Logger) *PromptCache {
	return &PromptCache{
		dir:     dir,
		model:   model,
		log:     log,
		mu:      sync.RWMutex{},
		prompts: make(map[string]*Prompt),
	}
}

// GetOrBuild returns the cached prompt for name, building it first on a miss
// or when forceReload is set. A hit performs no file or model I/O and returns
// the identical artifact. A failed build installs nothing.
func (c *PromptCache) GetOrBuild(ctx context.Context, name string, forceReload bool) (*Prompt, error) {
	if !forceReload {
		c.mu.RLock()
		cached, ok := c.prompts[name]
		c.mu.RUnlock()

		if ok {
			return cached, nil
		}
	}

	built, err := c.build(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.prompts[name] = built
	c.mu.Unlock()

	return built, nil
}

// Invalidate drops any cached prompt for name and eagerly rebuilds it. A
// failed rebuild leaves the name absent from the cache; no stale entry is
// retained.
func (c *PromptCache) Invalidate(ctx context.Context, name string) (*Prompt, error) {
	c.mu.Lock()
	delete(c.prompts, name)
	c.mu.Unlock()

	return c.GetOrBuild(ctx, name, true)
}

// Clear removes every cached prompt. Subsequent lookups rebuild lazily.
func (c *PromptCache) Clear() {
	c.mu.Lock()
	c.prompts = make(map[string]*Prompt)
	c.mu.Unlock()
}

// Cached returns the names currently held in the cache, sorted.
func (c *PromptCache) Cached() []string {
	c.mu.RLock()

	names := make([]string, 0, len(c.prompts))
	for name := range c.prompts {
		names = append(names, name)
	}

	c.mu.RUnlock()

	sort.Strings(names)

	return names
}

// build materializes a prompt for name from its reference files. Missing
// files fail with ErrVoiceFileMissing naming the specific file; build errors
// from the model propagate and never install a default prompt.
func (c *PromptCache) build(ctx context.Context, name string) (*Prompt, error) {
	audioPath := AudioPath(c.dir, name)
	transcriptPath := TranscriptPath(c.dir, name)

	audioInfo, err := os.Stat(audioPath)
	if err != nil {
		return nil, newVoiceFileMissingError(name, audioPath)
	}

	textInfo, err := os.Stat(transcriptPath)
	if err != nil {
		return nil, newVoiceFileMissingError(name, transcriptPath)
	}

	transcriptData, err := os.ReadFile(transcriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript for voice %q: %w", name, err)
	}

	transcript := strings.TrimSpace(string(transcriptData))

	c.log.Info("Building voice prompt for %q", name)

	artifact, err := c.model.BuildPrompt(ctx, audioPath, transcript, core.FidelityFull)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt for voice %q: %w", name, err)
	}

	return &Prompt{
		Name:          name,
		BuiltAt:       time.Now(),
		AudioModTime:  audioInfo.ModTime(),
		TextModTime:   textInfo.ModTime(),
		Artifact:      artifact,
		TranscriptLen: len(transcript),
	}, nil
}
