// Package model_test tests the fallback-ladder model loader.
package model_test

import (
	"context"
	"errors"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/device"
	"github.com/book-expert/voiceclone-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTierUnavailable = errors.New("backend unavailable")

// stubHandle is a minimal core.ModelHandle for loader tests.
type stubHandle struct {
	spec core.LoadSpec
}

func (h *stubHandle) Device() string            { return h.spec.Device }
func (h *stubHandle) Precision() core.Precision { return h.spec.Precision }
func (h *stubHandle) Backend() core.Backend     { return h.spec.Backend }

func (h *stubHandle) BuildPrompt(
	_ context.Context, _, _ string, _ core.FidelityMode,
) (core.Prompt, error) {
	return nil, nil
}

func (h *stubHandle) Generate(
	_ context.Context, _, _ string, _ core.Prompt,
) (core.Speech, error) {
	return core.Speech{Samples: nil, SampleRate: 0}, nil
}

// stubEngine fails the first failures attempts and records every spec tried.
type stubEngine struct {
	failures int
	attempts []core.LoadSpec
}

func (e *stubEngine) Load(_ context.Context, spec core.LoadSpec) (core.ModelHandle, error) {
	e.attempts = append(e.attempts, spec)
	if len(e.attempts) <= e.failures {
		return nil, errTierUnavailable
	}

	return &stubHandle{spec: spec}, nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "model-test.log")
	require.NoError(t, err)

	return log
}

func acceleratedDecision() device.Decision {
	return device.Decision{
		Accelerated: true,
		Device:      device.AcceleratedDevice,
		Name:        "NVIDIA A10",
		MemoryBytes: 24 * 1024 * 1024 * 1024,
	}
}

func cpuDecision() device.Decision {
	return device.Decision{
		Accelerated: false,
		Device:      device.CPUDevice,
		Name:        device.CPUDevice,
		MemoryBytes: 0,
	}
}

func TestTiers_Accelerated(t *testing.T) {
	t.Parallel()

	tiers := model.Tiers(acceleratedDecision())

	require.Len(t, tiers, 3)
	assert.Equal(t, core.LoadSpec{
		Device:    device.AcceleratedDevice,
		Precision: core.PrecisionBF16,
		Backend:   core.BackendFlashAttention,
	}, tiers[0])
	assert.Equal(t, core.LoadSpec{
		Device:    device.AcceleratedDevice,
		Precision: core.PrecisionBF16,
		Backend:   core.BackendEager,
	}, tiers[1])
	assert.Equal(t, core.LoadSpec{
		Device:    device.CPUDevice,
		Precision: core.PrecisionFP32,
		Backend:   core.BackendEager,
	}, tiers[2])
}

func TestTiers_CPU(t *testing.T) {
	t.Parallel()

	tiers := model.Tiers(cpuDecision())

	require.Len(t, tiers, 1)
	assert.Equal(t, core.LoadSpec{
		Device:    device.CPUDevice,
		Precision: core.PrecisionFP32,
		Backend:   core.BackendEager,
	}, tiers[0])
}

func TestLoad_FirstTierSucceeds(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{failures: 0, attempts: nil}
	loader := model.NewLoader(engine, newTestLogger(t))

	handle, err := loader.Load(context.Background(), acceleratedDecision())
	require.NoError(t, err)

	assert.Equal(t, device.AcceleratedDevice, handle.Device())
	assert.Equal(t, core.PrecisionBF16, handle.Precision())
	assert.Equal(t, core.BackendFlashAttention, handle.Backend())
	assert.Len(t, engine.attempts, 1)
}

func TestLoad_FallsBackToEagerBackend(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{failures: 1, attempts: nil}
	loader := model.NewLoader(engine, newTestLogger(t))

	handle, err := loader.Load(context.Background(), acceleratedDecision())
	require.NoError(t, err)

	assert.Equal(t, device.AcceleratedDevice, handle.Device())
	assert.Equal(t, core.BackendEager, handle.Backend())
	assert.Len(t, engine.attempts, 2)
}

func TestLoad_ForcedCPUDowngrade(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{failures: 2, attempts: nil}
	loader := model.NewLoader(engine, newTestLogger(t))

	handle, err := loader.Load(context.Background(), acceleratedDecision())
	require.NoError(t, err)

	assert.Equal(t, device.CPUDevice, handle.Device())
	assert.Equal(t, core.PrecisionFP32, handle.Precision())
	assert.Equal(t, core.BackendEager, handle.Backend())
	assert.Len(t, engine.attempts, 3)
}

func TestLoad_AllTiersExhausted(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{failures: 3, attempts: nil}
	loader := model.NewLoader(engine, newTestLogger(t))

	handle, err := loader.Load(context.Background(), acceleratedDecision())
	require.Error(t, err)

	assert.Nil(t, handle)
	assert.ErrorIs(t, err, model.ErrModelLoadFailed)
	assert.ErrorIs(t, err, errTierUnavailable)
	assert.Len(t, engine.attempts, 3, "exactly three tiers before the final error")
}

func TestLoad_CPUDecisionHasSingleAttempt(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{failures: 1, attempts: nil}
	loader := model.NewLoader(engine, newTestLogger(t))

	handle, err := loader.Load(context.Background(), cpuDecision())
	require.Error(t, err)

	assert.Nil(t, handle)
	assert.ErrorIs(t, err, model.ErrModelLoadFailed)
	assert.Len(t, engine.attempts, 1)
}
