package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fentz26/guardian/internal/adaptation"
	"github.com/fentz26/guardian/internal/auth"
	"github.com/fentz26/guardian/internal/cleanup"
	"github.com/fentz26/guardian/internal/guardian"
)

// Sentinel errors for control plane operations.
var (
	ErrComponentNotFound = errors.New("component_not_found")
	ErrBadRequest        = errors.New("bad_request")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate_limited")
)

// Result is the body of every failed request.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorClass struct {
	err    error
	status int
}

// errorClasses maps sentinel errors to a status; the sentinel text is the tag.
var errorClasses = []errorClass{
	{adaptation.ErrProposalNotFound, http.StatusNotFound},
	{guardian.ErrThreatNotFound, http.StatusNotFound},
	{ErrComponentNotFound, http.StatusNotFound},
	{adaptation.ErrNotPending, http.StatusConflict},
	{adaptation.ErrNotApproved, http.StatusConflict},
	{adaptation.ErrNotApplied, http.StatusConflict},
	{adaptation.ErrRollbackNotAvailable, http.StatusConflict},
	{adaptation.ErrHumanApproval, http.StatusForbidden},
	{adaptation.ErrHighRiskApprover, http.StatusForbidden},
	{adaptation.ErrInvalidChange, http.StatusBadRequest},
	{cleanup.ErrUnknownCategory, http.StatusBadRequest},
	{ErrBadRequest, http.StatusBadRequest},
	{ErrUnauthorized, http.StatusUnauthorized},
	{auth.ErrInvalid, http.StatusUnauthorized},
	{ErrRateLimited, http.StatusTooManyRequests},
	{adaptation.ErrApplyFailed, http.StatusInternalServerError},
	{adaptation.ErrRollbackFailed, http.StatusInternalServerError},
}

// classify returns the HTTP status and failure tag for err.
func classify(err error) (int, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.status, c.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, err error) {
	status, tag := classify(err)
	res := Result{Success: false, Error: tag}
	if err.Error() != tag {
		res.Message = err.Error()
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
