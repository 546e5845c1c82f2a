package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/guardian/internal/models"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestThreatLifecycle(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	threat := models.Threat{
		ID:        "t1",
		Timestamp: created,
		Source:    "health",
		Type:      "component_dead",
		Severity:  models.SeverityCritical,
		Component: "core",
		Details:   map[string]any{"age_ms": 6000},
		Status:    models.ThreatPending,
	}
	if err := s.SaveThreat(threat); err != nil {
		t.Fatalf("SaveThreat failed: %v", err)
	}

	got, err := s.GetThreat("t1")
	if err != nil {
		t.Fatalf("GetThreat failed: %v", err)
	}
	if got.Type != "component_dead" || got.Severity != models.SeverityCritical || got.Component != "core" {
		t.Errorf("Unexpected threat: %+v", got)
	}
	details, ok := got.Details.(map[string]any)
	if !ok || details["age_ms"] != float64(6000) {
		t.Errorf("Details not round-tripped: %#v", got.Details)
	}
	if !got.Timestamp.Equal(created) {
		t.Errorf("Expected timestamp %v, got %v", created, got.Timestamp)
	}

	pending, err := s.ListThreats(string(models.ThreatPending))
	if err != nil {
		t.Fatalf("ListThreats failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Expected 1 pending threat, got %d", len(pending))
	}

	ok, err = s.ResolveThreat("t1", "restarted", created.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("ResolveThreat = %v, %v; want true, nil", ok, err)
	}

	// A second resolve is an expected race, not an error.
	ok, err = s.ResolveThreat("t1", "again", created.Add(2*time.Minute))
	if err != nil || ok {
		t.Fatalf("second ResolveThreat = %v, %v; want false, nil", ok, err)
	}

	got, _ = s.GetThreat("t1")
	if got.Status != models.ThreatResolved || got.Resolution != "restarted" || got.ResolvedAt == nil {
		t.Errorf("Unexpected resolved threat: %+v", got)
	}

	pending, _ = s.ListThreats(string(models.ThreatPending))
	if len(pending) != 0 {
		t.Errorf("Expected 0 pending threats, got %d", len(pending))
	}
	all, _ := s.ListThreats("")
	if len(all) != 1 {
		t.Errorf("Expected 1 threat total, got %d", len(all))
	}
}

func TestThreatNotFound(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	if _, err := s.GetThreat("missing"); !errors.Is(err, ErrThreatNotFound) {
		t.Errorf("GetThreat error = %v, want ErrThreatNotFound", err)
	}
	if _, err := s.ResolveThreat("missing", "x", time.Now()); !errors.Is(err, ErrThreatNotFound) {
		t.Errorf("ResolveThreat error = %v, want ErrThreatNotFound", err)
	}
}

func TestListThreatsOrdered(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		err := s.SaveThreat(models.Threat{
			ID:        id,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Source:    "integrity",
			Type:      "modified",
			Severity:  models.SeverityWarning,
			Status:    models.ThreatPending,
		})
		if err != nil {
			t.Fatalf("SaveThreat failed: %v", err)
		}
	}

	threats, err := s.ListThreats("")
	if err != nil {
		t.Fatalf("ListThreats failed: %v", err)
	}
	var ids []string
	for _, th := range threats {
		ids = append(ids, th.ID)
	}
	if len(ids) != 3 || ids[0] != "c" || ids[1] != "a" || ids[2] != "b" {
		t.Errorf("Expected order [c a b], got %v", ids)
	}
}

func TestPDR(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	entry, err := s.WritePDR("adaptation.approve", "abc123", "approved", "adapt_1", "approver=human")
	if err != nil {
		t.Fatalf("WritePDR failed: %v", err)
	}
	if entry.ID == "" {
		t.Error("PDR ID should not be empty")
	}
	if _, err := s.WritePDR("guardian.resolve", "def456", "resolved", "t1", ""); err != nil {
		t.Fatalf("WritePDR failed: %v", err)
	}

	all, err := s.ListPDR("", 0)
	if err != nil {
		t.Fatalf("ListPDR failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 PDR entries, got %d", len(all))
	}

	mine, err := s.ListPDR("adapt_1", 10)
	if err != nil {
		t.Fatalf("ListPDR failed: %v", err)
	}
	if len(mine) != 1 || mine[0].Action != "adaptation.approve" || mine[0].Details != "approver=human" {
		t.Errorf("Unexpected filtered PDR entries: %+v", mine)
	}

	limited, _ := s.ListPDR("", 1)
	if len(limited) != 1 {
		t.Errorf("Expected limit to cap at 1, got %d", len(limited))
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func newTestStore(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}
