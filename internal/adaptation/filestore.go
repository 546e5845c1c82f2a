package adaptation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fentz26/guardian/internal/fsutil"
	"github.com/fentz26/guardian/internal/models"
)

// ProposalStore persists proposals across restarts.
type ProposalStore interface {
	// Save writes the full proposal, replacing any previous version.
	Save(p models.Proposal) error
	// LoadActive returns every stored proposal that is pending or approved.
	LoadActive() ([]models.Proposal, error)
}

// FileStore keeps one JSON document per proposal in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes p atomically.
func (s *FileStore) Save(p models.Proposal) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	return fsutil.WriteFileAtomic(s.path(p.ID), data, 0644)
}

// LoadActive reads the directory and returns pending and approved proposals
// ordered by timestamp. Unreadable or malformed documents are skipped; a
// missing directory yields nothing.
func (s *FileStore) LoadActive() ([]models.Proposal, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read proposals: %w", err)
	}

	var out []models.Proposal
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var p models.Proposal
		if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
			continue
		}
		if p.Status == models.ProposalPending || p.Status == models.ProposalApproved {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// backupStore copies targets into a backup root before destructive actions.
type backupStore struct {
	dir string
	now func() time.Time
}

// Backup copies target to <dir>/<basename>.<unix-ms>.backup and returns the
// backup path.
func (b *backupStore) Backup(target string) (string, error) {
	ms := b.now().UnixMilli()
	base := filepath.Base(target)
	path := filepath.Join(b.dir, fmt.Sprintf("%s.%d.backup", base, ms))
	for fsutil.Exists(path) {
		ms++
		path = filepath.Join(b.dir, fmt.Sprintf("%s.%d.backup", base, ms))
	}
	if err := fsutil.CopyFile(target, path); err != nil {
		return "", fmt.Errorf("backup %s: %w", target, err)
	}
	return path, nil
}
