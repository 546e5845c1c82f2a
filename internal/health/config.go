package health

import "time"

// Config defines the health monitor configuration.
type Config struct {
	// HeartbeatTimeout is how long a component may stay silent before it is dead.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	// CheckInterval is the period of the watchdog check.
	CheckInterval time.Duration `yaml:"check_interval"`
	// HistoryLimit bounds the number of retained check snapshots.
	HistoryLimit int `yaml:"history_limit"`
	// AnomalyThreshold is the z-score above which a metric is anomalous.
	AnomalyThreshold float64 `yaml:"anomaly_threshold"`
	// BaselineSamples is the number of values folded into each metric's
	// baseline before that metric is checked for anomalies.
	BaselineSamples int `yaml:"baseline_samples"`
	// StuckTimeout is how long the progress metric may stay flat.
	StuckTimeout time.Duration `yaml:"stuck_timeout"`
	// MemoryLeakRatio and HandleLeakRatio are multiples of the baseline mean.
	MemoryLeakRatio float64 `yaml:"memory_leak_ratio"`
	HandleLeakRatio float64 `yaml:"handle_leak_ratio"`
}

// DefaultConfig returns the default health monitor configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: 5 * time.Second,
		CheckInterval:    time.Second,
		HistoryLimit:     1000,
		AnomalyThreshold: 2.0,
		BaselineSamples:  10,
		StuckTimeout:     time.Minute,
		MemoryLeakRatio:  2.0,
		HandleLeakRatio:  1.5,
	}
}
