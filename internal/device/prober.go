// Package device decides whether an accelerated compute device is usable.
//
// A device that merely reports presence is not enough: drivers can race
// service startup, so the prober retries a real query a bounded number of
// times before settling on CPU.
package device

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
)

// ErrMalformedProbeOutput indicates the device query returned output the
// prober could not parse.
var ErrMalformedProbeOutput = errors.New("malformed device probe output")

func errMalformedProbeOutput(line string) error {
	return fmt.Errorf("%w: %q", ErrMalformedProbeOutput, line)
}

const (
	// DefaultAttempts is the number of probe attempts before falling back to CPU.
	DefaultAttempts = 3

	// DefaultRetryDelay is the pause between failed probe attempts.
	DefaultRetryDelay = 2 * time.Second

	nvidiaSMIBinary = "nvidia-smi"
	nvidiaSMIQuery  = "--query-gpu=name,memory.total"
	nvidiaSMIFormat = "--format=csv,noheader,nounits"

	bytesPerMebibyte = 1024 * 1024

	// CPUDevice is the device identifier used when no accelerator is usable.
	CPUDevice = "cpu"

	// AcceleratedDevice is the device identifier of the first GPU.
	AcceleratedDevice = "cuda:0"
)

// Decision is the outcome of a probe. Absence of acceleration is a normal
// outcome, never an error.
type Decision struct {
	Accelerated bool
	Device      string
	Name        string
	MemoryBytes int64
}

// ProbeFunc performs a single probe attempt and reports the accelerator's
// name and total memory, or an error if the device is absent or unresponsive.
type ProbeFunc func(ctx context.Context) (name string, memoryBytes int64, err error)

// Prober determines accelerator availability with bounded retries.
type Prober struct {
	attempts int
	delay    time.Duration
	probe    ProbeFunc
	log      *logger.Logger
}

// New creates a Prober using the nvidia-smi probe. Zero or negative attempts
// fall back to DefaultAttempts; a negative delay falls back to
// DefaultRetryDelay, while a zero delay is honored (useful in tests).
func New(attempts int, delay time.Duration, log *logger.Logger) *Prober {
	return NewWithProbe(attempts, delay, probeNvidiaSMI, log)
}

// NewWithProbe creates a Prober with a custom probe function.
func NewWithProbe(attempts int, delay time.Duration, probe ProbeFunc, log *logger.Logger) *Prober {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	if delay < 0 {
		delay = DefaultRetryDelay
	}

	return &Prober{
		attempts: attempts,
		delay:    delay,
		probe:    probe,
		log:      log,
	}
}

// Probe attempts to confirm a usable accelerator, retrying on failure. It
// returns an accelerated decision on the first successful attempt, or a CPU
// decision once every attempt has failed or the context is done.
func (p *Prober) Probe(ctx context.Context) Decision {
	for attempt := 1; attempt <= p.attempts; attempt++ {
		name, memoryBytes, err := p.probe(ctx)
		if err == nil {
			p.log.Info(
				"Accelerated device usable: %s (%d MiB)",
				name,
				memoryBytes/bytesPerMebibyte,
			)

			return Decision{
				Accelerated: true,
				Device:      AcceleratedDevice,
				Name:        name,
				MemoryBytes: memoryBytes,
			}
		}

		p.log.Warn("Device probe attempt %d/%d failed: %v", attempt, p.attempts, err)

		if attempt < p.attempts {
			if waitErr := sleepContext(ctx, p.delay); waitErr != nil {
				break
			}
		}
	}

	p.log.Info("No usable accelerated device, using CPU")

	return Decision{
		Accelerated: false,
		Device:      CPUDevice,
		Name:        CPUDevice,
		MemoryBytes: 0,
	}
}

// sleepContext waits for the delay or until the context is cancelled.
func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay == 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// probeNvidiaSMI queries the first GPU's name and total memory. Any execution
// or parse failure marks the device unusable for this attempt.
func probeNvidiaSMI(ctx context.Context) (string, int64, error) {
	cmd := exec.CommandContext(ctx, nvidiaSMIBinary, nvidiaSMIQuery, nvidiaSMIFormat)

	output, err := cmd.Output()
	if err != nil {
		return "", 0, err
	}

	return parseNvidiaSMIOutput(string(output))
}

func parseNvidiaSMIOutput(output string) (string, int64, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")

	name, memoryField, found := cutLast(line, ",")
	if !found {
		return "", 0, errMalformedProbeOutput(line)
	}

	memoryMiB, err := strconv.ParseInt(strings.TrimSpace(memoryField), 10, 64)
	if err != nil {
		return "", 0, errMalformedProbeOutput(line)
	}

	return strings.TrimSpace(name), memoryMiB * bytesPerMebibyte, nil
}

// cutLast splits around the last occurrence of sep, so GPU names containing
// commas stay intact.
func cutLast(s, sep string) (before, after string, found bool) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return s, "", false
	}

	return s[:idx], s[idx+len(sep):], true
}
