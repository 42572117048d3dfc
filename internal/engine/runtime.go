package engine

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
)

const healthPollInterval = 500 * time.Millisecond

// Config holds the runtime process settings.
type Config struct {
	// Binary is the inference runtime executable.
	Binary string
	// ModelID is the model the runtime loads.
	ModelID string
	// Port is the localhost port the runtime serves on.
	Port int
	// StartupTimeout bounds how long a load attempt may take, weights
	// included.
	StartupTimeout time.Duration
	// RequestTimeout applies to prompt builds and generation calls.
	RequestTimeout time.Duration
}

// Runtime implements core.Engine by spawning the inference runtime process
// with the tier's device, precision and backend flags. A load attempt that
// does not become healthy within the startup timeout is discarded entirely:
// the process is killed and nothing is returned.
type Runtime struct {
	cfg Config
	log *logger.Logger
}

// Compile-time interface assertion.
var _ core.Engine = (*Runtime)(nil)

// NewRuntime creates a Runtime engine with the given process settings.
func NewRuntime(cfg Config, log *logger.Logger) *Runtime {
	return &Runtime{
		cfg: cfg,
		log: log,
	}
}

// LoadArgs returns the command-line arguments for one load attempt.
func LoadArgs(cfg Config, spec core.LoadSpec) []string {
	return []string{
		"--model", cfg.ModelID,
		"--device", spec.Device,
		"--dtype", string(spec.Precision),
		"--attn", string(spec.Backend),
		"--port", strconv.Itoa(cfg.Port),
	}
}

// Load starts the runtime for the given spec and waits for it to become
// healthy. The process intentionally outlives ctx: once loaded, the model
// serves for the remainder of the service process (there is no hot swap and
// no teardown path other than service exit).
func (r *Runtime) Load(ctx context.Context, spec core.LoadSpec) (core.ModelHandle, error) {
	args := LoadArgs(r.cfg, spec)

	r.log.Info("Starting inference runtime: %s (%s, %s, %s)",
		r.cfg.Binary, spec.Device, spec.Precision, spec.Backend)

	// #nosec G204 -- binary and model come from operator configuration.
	cmd := exec.Command(r.cfg.Binary, args...)

	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start runtime %q: %w", r.cfg.Binary, err)
	}

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", r.cfg.Port)
	client := NewClient(baseURL, r.cfg.RequestTimeout)

	err = waitReady(ctx, client, r.cfg.StartupTimeout)
	if err != nil {
		killErr := cmd.Process.Kill()
		if killErr != nil {
			r.log.Warn("Failed to kill unhealthy runtime process: %v", killErr)
		}

		// Reap the process so the failed tier leaves nothing behind.
		_ = cmd.Wait()

		return nil, fmt.Errorf("runtime did not become healthy on %s (%s, %s): %w",
			spec.Device, spec.Precision, spec.Backend, err)
	}

	return NewHandle(spec, client), nil
}

// waitReady polls the runtime health endpoint until it responds or the
// startup timeout elapses.
func waitReady(ctx context.Context, client *Client, timeout time.Duration) error {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	var lastErr error

	for {
		lastErr = client.HealthCheck(deadline)
		if lastErr == nil {
			return nil
		}

		select {
		case <-deadline.Done():
			return fmt.Errorf("startup deadline exceeded: %w", lastErr)
		case <-ticker.C:
		}
	}
}

// Handle is a loaded runtime instance. Calls are not safe for concurrent use;
// the resource manager serializes them.
type Handle struct {
	spec   core.LoadSpec
	client *Client
}

// Compile-time interface assertion.
var _ core.ModelHandle = (*Handle)(nil)

// NewHandle wraps a runtime client as a model handle. Exposed for tests that
// point the client at a stub server.
func NewHandle(spec core.LoadSpec, client *Client) *Handle {
	return &Handle{
		spec:   spec,
		client: client,
	}
}

// Device returns the execution device identifier.
func (h *Handle) Device() string { return h.spec.Device }

// Precision returns the numeric mode the model was loaded with.
func (h *Handle) Precision() core.Precision { return h.spec.Precision }

// Backend returns the active execution backend.
func (h *Handle) Backend() core.Backend { return h.spec.Backend }

// prompt is the opaque artifact a runtime handle produces.
type prompt struct {
	id string
}

func (p *prompt) Ref() string { return p.id }

// BuildPrompt constructs a voice-clone prompt on the runtime side.
func (h *Handle) BuildPrompt(
	ctx context.Context, audioPath, transcript string, mode core.FidelityMode,
) (core.Prompt, error) {
	xVectorOnly := mode == core.FidelityXVectorOnly

	promptID, err := h.client.BuildPrompt(ctx, audioPath, transcript, xVectorOnly)
	if err != nil {
		return nil, fmt.Errorf("prompt build failed: %w", err)
	}

	return &prompt{id: promptID}, nil
}

// Generate synthesizes speech using a previously built prompt.
func (h *Handle) Generate(
	ctx context.Context, text, language string, artifact core.Prompt,
) (core.Speech, error) {
	samples, sampleRate, err := h.client.Generate(ctx, text, language, artifact.Ref())
	if err != nil {
		return core.Speech{Samples: nil, SampleRate: 0}, fmt.Errorf("generation failed: %w", err)
	}

	return core.Speech{
		Samples:    samples,
		SampleRate: sampleRate,
	}, nil
}
