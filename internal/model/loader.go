// Package model loads the inference engine through an ordered ladder of
// fallback tiers, trading peak performance for startup availability on
// heterogeneous hardware.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/device"
)

// ErrModelLoadFailed indicates every fallback tier was attempted and failed.
// This is fatal to service construction.
var ErrModelLoadFailed = errors.New("model load failed")

// Loader attempts model loads tier by tier until one succeeds.
type Loader struct {
	engine core.Engine
	log    *logger.Logger
}

// NewLoader creates a Loader backed by the given engine.
func NewLoader(engine core.Engine, log *logger.Logger) *Loader {
	return &Loader{
		engine: engine,
		log:    log,
	}
}

// Tiers returns the ordered load attempts for a device decision.
//
// An accelerated device gets three tiers: reduced precision with the
// high-performance attention backend, the same device with the standard
// backend, and finally a forced CPU downgrade. A CPU decision gets the single
// standard tier.
func Tiers(decision device.Decision) []core.LoadSpec {
	if !decision.Accelerated {
		return []core.LoadSpec{
			{Device: device.CPUDevice, Precision: core.PrecisionFP32, Backend: core.BackendEager},
		}
	}

	return []core.LoadSpec{
		{Device: decision.Device, Precision: core.PrecisionBF16, Backend: core.BackendFlashAttention},
		{Device: decision.Device, Precision: core.PrecisionBF16, Backend: core.BackendEager},
		{Device: device.CPUDevice, Precision: core.PrecisionFP32, Backend: core.BackendEager},
	}
}

// Load tries every tier for the decision in order and returns the first
// usable handle. A tier either fully succeeds or is discarded; there is no
// partial success. On exhaustion the returned error wraps ErrModelLoadFailed
// and the last tier's error.
func (l *Loader) Load(ctx context.Context, decision device.Decision) (core.ModelHandle, error) {
	tiers := Tiers(decision)

	var lastErr error

	for tierIndex, spec := range tiers {
		handle, err := l.engine.Load(ctx, spec)
		if err == nil {
			l.log.Info(
				"Model loaded on %s (%s, %s)",
				spec.Device,
				spec.Precision,
				spec.Backend,
			)

			return handle, nil
		}

		lastErr = err
		l.log.Warn(
			"Load tier %d/%d (%s, %s, %s) failed: %v",
			tierIndex+1,
			len(tiers),
			spec.Device,
			spec.Precision,
			spec.Backend,
			err,
		)
	}

	return nil, fmt.Errorf("%w: %d tiers attempted: %w", ErrModelLoadFailed, len(tiers), lastErr)
}
