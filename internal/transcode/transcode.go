// Package transcode converts raw model output into the audio container a
// caller asked for. WAV and raw PCM are encoded natively; compressed formats
// are delegated to an external ffmpeg process.
package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/book-expert/voiceclone-service/internal/core"
)

// Format is a supported output audio format.
type Format string

// Supported output formats, matching the OpenAI speech API.
const (
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
	FormatAAC  Format = "aac"
	FormatFLAC Format = "flac"
	FormatWAV  Format = "wav"
	FormatPCM  Format = "pcm"
)

// WAV/PCM encoding constants: 16-bit mono.
const (
	wavHeaderSize   = 44
	bytesPerSample  = 2
	pcmFormatCode   = 1
	monoChannels    = 1
	bitsPerSample   = 16
	maxInt16        = 32767
	filePermissions = 0o600
)

// ErrUnsupportedFormat indicates a format outside the supported set.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// contentTypes maps formats to their MIME types.
var contentTypes = map[Format]string{
	FormatMP3:  "audio/mpeg",
	FormatOpus: "audio/opus",
	FormatAAC:  "audio/aac",
	FormatFLAC: "audio/flac",
	FormatWAV:  "audio/wav",
	FormatPCM:  "application/octet-stream",
}

// ParseFormat validates a requested format string.
func ParseFormat(s string) (Format, error) {
	format := Format(s)

	_, ok := contentTypes[format]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}

	return format, nil
}

// ContentType returns the MIME type for a format.
func ContentType(format Format) string {
	contentType, ok := contentTypes[format]
	if !ok {
		return "audio/wav"
	}

	return contentType
}

// EncodePCM converts float samples to raw 16-bit little-endian PCM, clipping
// out-of-range values.
func EncodePCM(speech core.Speech) []byte {
	data := make([]byte, len(speech.Samples)*bytesPerSample)

	for i, sample := range speech.Samples {
		clipped := sample
		if clipped > 1.0 {
			clipped = 1.0
		}

		if clipped < -1.0 {
			clipped = -1.0
		}

		binary.LittleEndian.PutUint16(data[i*bytesPerSample:], uint16(int16(clipped*maxInt16)))
	}

	return data
}

// EncodeWAV wraps the PCM encoding of speech in a minimal RIFF/WAVE header
// (16-bit mono at the model's sample rate).
func EncodeWAV(speech core.Speech) []byte {
	pcm := EncodePCM(speech)

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))

	byteRate := speech.SampleRate * monoChannels * bytesPerSample
	blockAlign := monoChannels * bytesPerSample

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(pcmFormatCode))
	_ = binary.Write(buf, binary.LittleEndian, uint16(monoChannels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(speech.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// Encoder produces encoded audio in any supported format.
type Encoder struct {
	ffmpegBinary string
}

// NewEncoder creates an Encoder that shells out to the given ffmpeg binary
// for compressed formats.
func NewEncoder(ffmpegBinary string) *Encoder {
	return &Encoder{
		ffmpegBinary: ffmpegBinary,
	}
}

// Encode converts speech to the requested format and returns the encoded
// bytes together with their content type.
func (e *Encoder) Encode(ctx context.Context, speech core.Speech, format Format) ([]byte, string, error) {
	switch format {
	case FormatWAV:
		return EncodeWAV(speech), ContentType(format), nil
	case FormatPCM:
		return EncodePCM(speech), ContentType(format), nil
	case FormatMP3, FormatAAC, FormatOpus, FormatFLAC:
		data, err := e.transcodeWithFFmpeg(ctx, speech, format)
		if err != nil {
			return nil, "", err
		}

		return data, ContentType(format), nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// codecArgs returns the per-format ffmpeg codec arguments.
func codecArgs(format Format) []string {
	switch format {
	case FormatMP3:
		return []string{"-acodec", "libmp3lame", "-q:a", "2"}
	case FormatAAC:
		return []string{"-acodec", "aac", "-b:a", "128k"}
	case FormatOpus:
		return []string{"-acodec", "libopus", "-b:a", "64k"}
	case FormatFLAC:
		return []string{"-acodec", "flac"}
	case FormatWAV, FormatPCM:
		return nil
	default:
		return nil
	}
}

// transcodeWithFFmpeg writes a temporary WAV and converts it with ffmpeg.
// Temp files are removed on every path; ffmpeg failures propagate with the
// tool's output attached.
func (e *Encoder) transcodeWithFFmpeg(ctx context.Context, speech core.Speech, format Format) ([]byte, error) {
	tempDir, err := os.MkdirTemp("", "voiceclone-transcode-")
	if err != nil {
		return nil, fmt.Errorf("failed to create transcode temp dir: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(tempDir)
	}()

	wavPath := filepath.Join(tempDir, "speech.wav")
	outPath := filepath.Join(tempDir, "speech."+string(format))

	err = os.WriteFile(wavPath, EncodeWAV(speech), filePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to write temp wav: %w", err)
	}

	args := []string{
		"-y",
		"-i", wavPath,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", speech.SampleRate),
		"-loglevel", "error",
	}
	args = append(args, codecArgs(format)...)
	args = append(args, outPath)

	// #nosec G204 -- the binary comes from operator configuration and the
	// arguments are built from validated formats and temp paths.
	cmd := exec.CommandContext(ctx, e.ffmpegBinary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg transcode to %s failed: %w - output: %s",
			format, err, string(output))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcoded audio: %w", err)
	}

	return data, nil
}
