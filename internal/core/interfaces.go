// Package core defines the boundary contracts between the voice resource
// manager and its collaborators: the inference engine, the object store, and
// the request-facing layers.
package core

import "context"

// Precision is the numeric mode the model weights are loaded in.
type Precision string

// Supported precisions.
const (
	PrecisionBF16 Precision = "bfloat16"
	PrecisionFP32 Precision = "float32"
)

// Backend is the attention implementation the engine executes with.
type Backend string

// Supported execution backends.
const (
	BackendFlashAttention Backend = "flash_attention_2"
	BackendEager          Backend = "eager"
)

// FidelityMode controls whether prompt construction keeps full acoustic detail
// or only the speaker embedding vector.
type FidelityMode string

// Supported fidelity modes.
const (
	FidelityFull        FidelityMode = "full"
	FidelityXVectorOnly FidelityMode = "x_vector_only"
)

// LoadSpec describes one model-load attempt: the target device plus the
// precision and backend to load with. The model loader tries an ordered list
// of these.
type LoadSpec struct {
	Device    string
	Precision Precision
	Backend   Backend
}

// Speech is the raw output of a generation call: float samples exactly as the
// model produced them, plus the model's sample rate. Format conversion is the
// transport layer's job.
type Speech struct {
	Samples    []float32
	SampleRate int
}

// Prompt is an opaque voice-clone prompt artifact owned by the engine. The
// cache layer wraps it with bookkeeping; callers never inspect it.
type Prompt interface {
	// Ref returns the engine-side identifier of the artifact.
	Ref() string
}

// ModelHandle is a loaded inference engine instance. A handle is not safe for
// concurrent calls: BuildPrompt and Generate must be serialized by the owner.
type ModelHandle interface {
	Device() string
	Precision() Precision
	Backend() Backend

	// BuildPrompt constructs a voice-clone prompt from a reference audio file
	// and its transcript.
	BuildPrompt(ctx context.Context, audioPath, transcript string, mode FidelityMode) (Prompt, error)

	// Generate synthesizes speech for text in the given language using a
	// previously built prompt.
	Generate(ctx context.Context, text, language string, prompt Prompt) (Speech, error)
}

// Engine creates model handles. A single Load attempt either fully succeeds
// or leaves nothing behind.
type Engine interface {
	Load(ctx context.Context, spec LoadSpec) (ModelHandle, error)
}

// VoiceService is the manager-facing contract consumed by the HTTP API and
// the NATS worker.
type VoiceService interface {
	ListVoices() ([]string, error)
	Synthesize(ctx context.Context, text, voice, language string) (Speech, error)
	ReloadVoice(ctx context.Context, name string) error
	ClearVoiceCache()
}

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
