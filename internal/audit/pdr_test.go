package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/guardian/internal/store"
)

func TestHashInputsIsStable(t *testing.T) {
	a := HashInputs(map[string]string{"id": "adapt_1", "approver": "human"})
	b := HashInputs(map[string]string{"approver": "human", "id": "adapt_1"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, HashInputs(map[string]string{"id": "adapt_2"}))
	assert.Equal(t, "hash_error", HashInputs(make(chan int)))
}

func TestRecordWritesToStore(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer s.Close()

	w := NewPDRWriter(s)
	inputs := map[string]string{"id": "adapt_1"}
	entry, err := w.Record("adaptation.apply", inputs, "applied", "adapt_1", "backup=x")
	require.NoError(t, err)
	assert.Equal(t, HashInputs(inputs), entry.InputsHash)

	entries, err := s.ListPDR("adapt_1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "adaptation.apply", entries[0].Action)
	assert.Equal(t, "applied", entries[0].Outcome)
}
