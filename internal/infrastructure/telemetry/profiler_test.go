package telemetry_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/automna/backend/internal/infrastructure/telemetry"
)

func TestNewProfiler(t *testing.T) {
	t.Run("disabled config yields a no-op profiler", func(t *testing.T) {
		profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
			Enabled:         false,
			ServerAddress:   "http://localhost:4040",
			ApplicationName: "metering-gateway",
		}, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, profiler)

		assert.False(t, profiler.IsEnabled())
		assert.NoError(t, profiler.Stop())
	})

	t.Run("requires server address when enabled", func(t *testing.T) {
		profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
			Enabled:         true,
			ApplicationName: "metering-gateway",
		}, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Nil(t, profiler)
		assert.Contains(t, err.Error(), "server address is required")
	})

	t.Run("requires application name when enabled", func(t *testing.T) {
		profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
			Enabled:       true,
			ServerAddress: "http://localhost:4040",
		}, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Nil(t, profiler)
		assert.Contains(t, err.Error(), "application name is required")
	})

	t.Run("runtime sampling flags do not break disabled construction", func(t *testing.T) {
		profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
			Enabled:              false,
			ServerAddress:        "http://localhost:4040",
			ApplicationName:      "metering-gateway",
			ProfileMutexCount:    true,
			ProfileMutexDuration: true,
			MutexProfileFraction: 10,
			ProfileBlockCount:    true,
			ProfileBlockDuration: true,
			BlockProfileRate:     10,
		}, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.False(t, profiler.IsEnabled())
		assert.NoError(t, profiler.Stop())
	})
}

func TestProfilerStop(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{}, zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.NoError(t, profiler.Stop())
		assert.NoError(t, profiler.Stop())
		assert.NoError(t, profiler.Stop())
	})

	t.Run("concurrent calls do not race", func(t *testing.T) {
		profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{}, zaptest.NewLogger(t))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = profiler.Stop()
			}()
		}
		wg.Wait()
	})
}
