package integrity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fentz26/guardian/internal/fsutil"
	"github.com/fentz26/guardian/internal/models"
	"go.uber.org/zap"
)

// SaveManifest writes the baseline as a JSON map of absolute path to entry.
func (c *Checker) SaveManifest(path string) error {
	data, err := json.MarshalIndent(c.Manifest(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	c.logger.Info("manifest saved", zap.String("path", path))
	return nil
}

// LoadManifest replaces the baseline with the one stored at path. A missing
// file is not an error: the baseline is left as it was and 0 is returned.
func (c *Checker) LoadManifest(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("no manifest to load", zap.String("path", path))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read manifest: %w", err)
	}

	loaded := make(map[string]models.ManifestEntry)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return 0, fmt.Errorf("parse manifest: %w", err)
	}

	c.mu.Lock()
	c.manifest = loaded
	c.mu.Unlock()

	manifestFiles.Set(float64(len(loaded)))
	c.logger.Info("manifest loaded", zap.String("path", path), zap.Int("files", len(loaded)))
	return len(loaded), nil
}
