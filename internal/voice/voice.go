// Package voice manages on-disk voice entries and the cache of built
// voice-clone prompts.
//
// A voice named n exists exactly when both <n>.wav and <n>.txt are present
// under the voices directory. The directory is the source of truth; there is
// no persistent registry.
package voice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Voice entry file extensions.
const (
	audioExt      = ".wav"
	transcriptExt = ".txt"
)

// ErrVoiceFileMissing indicates one of a voice's two source files is absent.
var ErrVoiceFileMissing = errors.New("voice file missing")

// ErrInvalidVoiceName indicates a voice name that could escape the voices
// directory or is empty.
var ErrInvalidVoiceName = errors.New("invalid voice name")

func newVoiceFileMissingError(name, path string) error {
	return fmt.Errorf("%w: voice %q: %s", ErrVoiceFileMissing, name, path)
}

// List scans dir and returns the sorted, deduplicated names of valid voices:
// every *.wav with a sibling *.txt. A missing directory yields an empty list,
// not an error; the operator may simply not have added voices yet.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read voices directory %q: %w", dir, err)
	}

	seen := make(map[string]struct{})

	var names []string

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != audioExt {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), audioExt)

		if _, dup := seen[name]; dup {
			continue
		}

		_, statErr := os.Stat(filepath.Join(dir, name+transcriptExt))
		if statErr != nil {
			continue
		}

		seen[name] = struct{}{}
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

// ValidName reports whether name is safe to resolve under the voices
// directory. Names with path separators or traversal components are rejected
// at the boundary before any filesystem access.
func ValidName(name string) error {
	if name == "" {
		return ErrInvalidVoiceName
	}

	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidVoiceName, name)
	}

	return nil
}

// AudioPath returns the reference audio path for a voice name.
func AudioPath(dir, name string) string {
	return filepath.Join(dir, name+audioExt)
}

// TranscriptPath returns the reference transcript path for a voice name.
func TranscriptPath(dir, name string) string {
	return filepath.Join(dir, name+transcriptExt)
}
