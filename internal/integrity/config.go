package integrity

import "time"

// Config defines the integrity checker configuration.
type Config struct {
	// HashExtensions are the file extensions included in the baseline.
	HashExtensions []string `yaml:"hash_extensions"`
	// ScanExtensions are the file extensions checked for suspicious patterns.
	ScanExtensions []string `yaml:"scan_extensions"`
	// SkipDirs are directory names never descended into. Hidden entries are
	// always skipped.
	SkipDirs []string `yaml:"skip_dirs"`
	// RequiredFiles maps a component name to files that must exist under one
	// of the scanned roots.
	RequiredFiles map[string][]string `yaml:"required_files"`
	// LongLineLimit is the line length above which a line is suspicious.
	LongLineLimit int `yaml:"long_line_limit"`
	// Workers bounds concurrent hashing during BuildBaseline.
	Workers int `yaml:"workers"`
	// WatchDebounce coalesces bursts of filesystem events per path.
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// DefaultConfig returns the default integrity checker configuration.
func DefaultConfig() Config {
	return Config{
		HashExtensions: []string{".go", ".js", ".ts", ".json", ".md", ".yaml", ".yml"},
		ScanExtensions: []string{".go", ".js", ".ts", ".sh"},
		SkipDirs:       []string{"node_modules", "vendor"},
		RequiredFiles: map[string][]string{
			"alive-core": {
				"reasoning/reasoning.js",
				"reasoning/assess.js",
				"knowledge/knowledge.interface.js",
			},
			"alive-body": {
				"hal/hal.interface.js",
				"senses/sensors.fusion.js",
			},
			"alive-system": {
				"runtime/resource.governor.js",
				"guardian/health.monitor.js",
			},
		},
		LongLineLimit: 1000,
		Workers:       8,
		WatchDebounce: 500 * time.Millisecond,
	}
}
