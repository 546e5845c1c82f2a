package cleanup

import (
	"os"
	"path/filepath"
	"time"
)

// Built-in category names.
const (
	CategoryTemp       = "temp"
	CategoryLogs       = "logs"
	CategoryCache      = "cache"
	CategoryExperience = "experience"
)

// Rule selects files in one category.
type Rule struct {
	// Pattern is a regular expression matched against the file name.
	Pattern string `yaml:"pattern"`
	// MaxAge is the age above which a matching file is expired.
	MaxAge time.Duration `yaml:"max_age"`
	// MaxSize, when positive, flags matching files larger than it as oversized.
	MaxSize int64 `yaml:"max_size,omitempty"`
	// Locations are the directories examined. Only their top level is read.
	Locations []string `yaml:"locations"`
}

// Config defines the cleanup configuration.
type Config struct {
	Categories map[string]Rule `yaml:"categories"`
	// HistoryLimit bounds the retained run history.
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultConfig returns the built-in categories with locations relative to
// the working directory.
func DefaultConfig() Config {
	return Config{
		Categories: map[string]Rule{
			CategoryTemp: {
				Pattern:   `^alive_.*\.(tmp|wav|json)$`,
				MaxAge:    time.Hour,
				Locations: []string{os.TempDir(), "temp"},
			},
			CategoryLogs: {
				Pattern:   `\.log$`,
				MaxAge:    7 * 24 * time.Hour,
				MaxSize:   10 << 20,
				Locations: []string{"logs"},
			},
			CategoryCache: {
				Pattern:   `\.cache$`,
				MaxAge:    24 * time.Hour,
				Locations: []string{"cache", ".cache"},
			},
			CategoryExperience: {
				Pattern:   `\.jsonl$`,
				MaxAge:    30 * 24 * time.Hour,
				Locations: []string{filepath.Join("data", "experience")},
			},
		},
		HistoryLimit: 100,
	}
}
