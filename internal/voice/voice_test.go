// Package voice_test tests voice listing and name validation.
package voice_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voiceclone-service/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVoiceFiles(t *testing.T, dir, name string, withAudio, withText bool) {
	t.Helper()

	if withAudio {
		err := os.WriteFile(filepath.Join(dir, name+".wav"), []byte("RIFF....WAVE"), 0o600)
		require.NoError(t, err)
	}

	if withText {
		err := os.WriteFile(filepath.Join(dir, name+".txt"), []byte("reference text\n"), 0o600)
		require.NoError(t, err)
	}
}

func TestList_OnlyCompletePairs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeVoiceFiles(t, dir, "zoe", true, true)
	writeVoiceFiles(t, dir, "alice", true, true)
	writeVoiceFiles(t, dir, "orphan-audio", true, false)
	writeVoiceFiles(t, dir, "orphan-text", false, true)

	names, err := voice.List(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "zoe"}, names, "only complete pairs, lexicographically sorted")
}

func TestList_MissingDirectoryIsEmptyNotError(t *testing.T) {
	t.Parallel()

	names, err := voice.List(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)

	assert.Empty(t, names)
}

func TestList_IgnoresSubdirectoriesAndOtherFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeVoiceFiles(t, dir, "alice", true, true)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.wav"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o600))

	names, err := voice.List(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice"}, names)
}

func TestValidName(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		voice   string
		wantErr bool
	}{
		{name: "plain name", voice: "alice", wantErr: false},
		{name: "name with spaces", voice: "british narrator", wantErr: false},
		{name: "empty", voice: "", wantErr: true},
		{name: "slash", voice: "a/b", wantErr: true},
		{name: "backslash", voice: `a\b`, wantErr: true},
		{name: "dot", voice: ".", wantErr: true},
		{name: "traversal", voice: "..", wantErr: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := voice.ValidName(testCase.voice)
			if testCase.wantErr {
				assert.ErrorIs(t, err, voice.ErrInvalidVoiceName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
