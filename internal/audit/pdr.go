// Package audit provides PDR (Process Decision Record) writing for Guardian.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/guardian/internal/models"
)

// Sink persists decision records.
type Sink interface {
	WritePDR(action, inputsHash, outcome, subjectID, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	sink Sink
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Sink) *PDRWriter {
	return &PDRWriter{sink: s}
}

// Record writes a PDR entry for a state-mutating action. subjectID names the
// proposal, threat or run the decision was about.
func (w *PDRWriter) Record(action string, inputs any, outcome, subjectID, details string) (*models.PDREntry, error) {
	return w.sink.WritePDR(action, HashInputs(inputs), outcome, subjectID, details)
}

// HashInputs returns the hex SHA256 of the JSON encoding of inputs, so the same
// inputs always produce the same record hash.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
