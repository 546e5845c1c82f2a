package guardian

import "time"

// Config defines the coordinator configuration.
type Config struct {
	// Roots are the directories baselined, scanned and quick-checked.
	Roots []string `yaml:"roots"`
	// ManifestPath is where the integrity baseline is persisted. Empty keeps
	// the baseline in memory only.
	ManifestPath string `yaml:"manifest_path"`
	// AutoApproveLow approves low-risk proposals as "core" without asking.
	AutoApproveLow bool `yaml:"auto_approve_low"`
	// AutoCleanup approves cleanup batches made only of temp files.
	AutoCleanup bool `yaml:"auto_cleanup"`
	// AutoIntegrity enables the scheduled integrity quick check.
	AutoIntegrity bool `yaml:"auto_integrity"`
	// IntegrityInterval is the period of the scheduled quick check.
	IntegrityInterval time.Duration `yaml:"integrity_interval"`
	// CleanupInterval is the period of the scheduled cleanup scan.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// Watch re-verifies baselined files on filesystem events.
	Watch bool `yaml:"watch"`
	// ThreatLimit bounds the threats kept in memory. Pending threats are
	// never evicted.
	ThreatLimit int `yaml:"threat_limit"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		ManifestPath:      "data/manifest.json",
		AutoApproveLow:    true,
		AutoCleanup:       false,
		AutoIntegrity:     true,
		IntegrityInterval: time.Hour,
		CleanupInterval:   24 * time.Hour,
		ThreatLimit:       1000,
	}
}
