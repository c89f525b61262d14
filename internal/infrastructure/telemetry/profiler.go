package telemetry

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
)

// ProfilerConfig holds continuous profiling settings. The gateway ships
// profiles to a Pyroscope server; CPU plus heap profiles are enough to
// spot hot settle paths and ledger allocation churn.
type ProfilerConfig struct {
	Enabled         bool
	ServerAddress   string // e.g. "http://pyroscope:4040"
	ApplicationName string

	// Basic auth, only needed for hosted Pyroscope
	BasicAuthUser     string
	BasicAuthPassword string

	ProfileCPU           bool
	ProfileAllocObjects  bool
	ProfileAllocSpace    bool
	ProfileInuseObjects  bool
	ProfileInuseSpace    bool
	ProfileGoroutines    bool
	ProfileMutexCount    bool
	ProfileMutexDuration bool
	ProfileBlockCount    bool
	ProfileBlockDuration bool

	MutexProfileFraction int // default 5
	BlockProfileRate     int // default 5
	DisableGCRuns        bool
}

// Profiler wraps the Pyroscope session with idempotent shutdown. A
// disabled config yields a no-op profiler so callers never branch.
type Profiler struct {
	session *pyroscope.Profiler
	logger  *zap.Logger
	config  ProfilerConfig
	mu      sync.Mutex
	stopped bool
}

// NewProfiler starts continuous profiling, or returns a no-op profiler
// when cfg.Enabled is false.
func NewProfiler(cfg ProfilerConfig, logger *zap.Logger) (*Profiler, error) {
	p := &Profiler{
		logger: logger,
		config: cfg,
	}

	if !cfg.Enabled {
		logger.Info("Continuous profiling disabled")
		return p, nil
	}

	if cfg.ServerAddress == "" {
		return nil, fmt.Errorf("profiler server address is required when profiling is enabled")
	}
	if cfg.ApplicationName == "" {
		return nil, fmt.Errorf("profiler application name is required when profiling is enabled")
	}

	// Mutex and block profiling need runtime sampling turned on
	if cfg.ProfileMutexCount || cfg.ProfileMutexDuration {
		fraction := cfg.MutexProfileFraction
		if fraction <= 0 {
			fraction = 5
		}
		runtime.SetMutexProfileFraction(fraction)
		logger.Debug("Mutex profiling enabled", zap.Int("fraction", fraction))
	}
	if cfg.ProfileBlockCount || cfg.ProfileBlockDuration {
		rate := cfg.BlockProfileRate
		if rate <= 0 {
			rate = 5
		}
		runtime.SetBlockProfileRate(rate)
		logger.Debug("Block profiling enabled", zap.Int("rate", rate))
	}

	profileTypes := cfg.profileTypes()
	if len(profileTypes) == 0 {
		logger.Warn("No profile types enabled, profiler will not collect any data")
	}

	tags := map[string]string{}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		tags["hostname"] = hostname
	}
	if podName := os.Getenv("POD_NAME"); podName != "" {
		tags["pod"] = podName
	}

	session, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   cfg.ApplicationName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		Logger:            &pyroscopeLogger{logger: logger.Named("pyroscope")},
		Tags:              tags,
		ProfileTypes:      profileTypes,
		DisableGCRuns:     cfg.DisableGCRuns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start profiler: %w", err)
	}

	p.session = session
	logger.Info("Continuous profiling started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Int("profile_types", len(profileTypes)),
	)

	return p, nil
}

func (cfg ProfilerConfig) profileTypes() []pyroscope.ProfileType {
	flags := []struct {
		enabled bool
		typ     pyroscope.ProfileType
	}{
		{cfg.ProfileCPU, pyroscope.ProfileCPU},
		{cfg.ProfileAllocObjects, pyroscope.ProfileAllocObjects},
		{cfg.ProfileAllocSpace, pyroscope.ProfileAllocSpace},
		{cfg.ProfileInuseObjects, pyroscope.ProfileInuseObjects},
		{cfg.ProfileInuseSpace, pyroscope.ProfileInuseSpace},
		{cfg.ProfileGoroutines, pyroscope.ProfileGoroutines},
		{cfg.ProfileMutexCount, pyroscope.ProfileMutexCount},
		{cfg.ProfileMutexDuration, pyroscope.ProfileMutexDuration},
		{cfg.ProfileBlockCount, pyroscope.ProfileBlockCount},
		{cfg.ProfileBlockDuration, pyroscope.ProfileBlockDuration},
	}

	var types []pyroscope.ProfileType
	for _, f := range flags {
		if f.enabled {
			types = append(types, f.typ)
		}
	}
	return types
}

// Stop flushes pending profiles and stops the session. Safe to call
// more than once. The Pyroscope SDK does not take a context, so an
// unresponsive server can delay shutdown up to its internal timeout.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true

	if p.session == nil {
		return nil
	}

	if err := p.session.Stop(); err != nil {
		p.logger.Error("Error stopping profiler", zap.Error(err))
		return fmt.Errorf("failed to stop profiler: %w", err)
	}

	p.logger.Info("Continuous profiling stopped")
	return nil
}

// IsEnabled reports whether a profiling session is running.
func (p *Profiler) IsEnabled() bool {
	return p.config.Enabled && p.session != nil
}

// pyroscopeLogger adapts zap to the pyroscope.Logger interface.
type pyroscopeLogger struct {
	logger *zap.Logger
}

func (l *pyroscopeLogger) Infof(format string, args ...any) {
	l.logger.Sugar().Infof(format, args...)
}

func (l *pyroscopeLogger) Debugf(format string, args ...any) {
	l.logger.Sugar().Debugf(format, args...)
}

func (l *pyroscopeLogger) Errorf(format string, args ...any) {
	l.logger.Sugar().Errorf(format, args...)
}
