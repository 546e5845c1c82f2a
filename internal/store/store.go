// Package store provides SQLite-backed persistence for Guardian.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/guardian/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrThreatNotFound is returned when no threat has the requested id.
var ErrThreatNotFound = errors.New("threat not found")

// Store provides access to the Guardian SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threats (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		component TEXT,
		details TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		resolution TEXT,
		resolved_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		subject_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_threats_status ON threats(status);
	CREATE INDEX IF NOT EXISTS idx_pdr_subject_id ON pdr(subject_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Threat Operations ---

const threatColumns = `id, source, type, severity, component, details, status, resolution, resolved_at, created_at`

// SaveThreat inserts or replaces a threat. Details are stored as JSON.
func (s *Store) SaveThreat(t models.Threat) error {
	var details sql.NullString
	if t.Details != nil {
		data, err := json.Marshal(t.Details)
		if err != nil {
			return fmt.Errorf("marshal threat details: %w", err)
		}
		details = sql.NullString{String: string(data), Valid: true}
	}
	var resolvedAt sql.NullTime
	if t.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: t.ResolvedAt.UTC(), Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO threats (`+threatColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Source, t.Type, string(t.Severity), nullString(t.Component), details,
		string(t.Status), nullString(t.Resolution), resolvedAt, t.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert threat: %w", err)
	}
	return nil
}

// ResolveThreat marks a pending threat resolved. It reports false when the
// threat exists but was already resolved.
func (s *Store) ResolveThreat(id, resolution string, at time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE threats SET status = ?, resolution = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		string(models.ThreatResolved), resolution, at.UTC(), id, string(models.ThreatPending),
	)
	if err != nil {
		return false, fmt.Errorf("update threat: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetThreat(id); err != nil {
		return false, err
	}
	return false, nil
}

// GetThreat retrieves a threat by id.
func (s *Store) GetThreat(id string) (*models.Threat, error) {
	row := s.db.QueryRow(`SELECT `+threatColumns+` FROM threats WHERE id = ?`, id)
	t, err := scanThreat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query threat: %w", err)
	}
	return t, nil
}

// ListThreats returns threats oldest first, optionally filtered by status.
func (s *Store) ListThreats(status string) ([]models.Threat, error) {
	query := `SELECT ` + threatColumns + ` FROM threats`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query threats: %w", err)
	}
	defer rows.Close()

	var threats []models.Threat
	for rows.Next() {
		t, err := scanThreat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan threat: %w", err)
		}
		threats = append(threats, *t)
	}
	return threats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThreat(r rowScanner) (*models.Threat, error) {
	var t models.Threat
	var severity, status string
	var component, details, resolution sql.NullString
	var resolvedAt sql.NullTime
	if err := r.Scan(&t.ID, &t.Source, &t.Type, &severity, &component, &details,
		&status, &resolution, &resolvedAt, &t.Timestamp); err != nil {
		return nil, err
	}
	t.Severity = models.Severity(severity)
	t.Status = models.ThreatStatus(status)
	t.Component = component.String
	t.Resolution = resolution.String
	if resolvedAt.Valid {
		at := resolvedAt.Time
		t.ResolvedAt = &at
	}
	if details.Valid && details.String != "" {
		var v any
		if err := json.Unmarshal([]byte(details.String), &v); err == nil {
			t.Details = v
		} else {
			t.Details = details.String
		}
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, subjectID, details string) (*models.PDREntry, error) {
	entry := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		SubjectID:  subjectID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, subject_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.InputsHash, entry.Outcome, nullString(entry.SubjectID), entry.Details, entry.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return entry, nil
}

// ListPDR returns recent decision records, newest first, optionally
// restricted to one subject.
func (s *Store) ListPDR(subjectID string, limit int) ([]models.PDREntry, error) {
	query := `SELECT id, action, inputs_hash, outcome, subject_id, details, timestamp FROM pdr`
	var args []interface{}
	if subjectID != "" {
		query += ` WHERE subject_id = ?`
		args = append(args, subjectID)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var subject, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &subject, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.SubjectID = subject.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
