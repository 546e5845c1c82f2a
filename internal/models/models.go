// Package models defines the core domain types for Guardian.
package models

import "time"

// Severity grades an issue, alert or threat. Threats only carry info, warning,
// error or critical; the remaining levels come from the integrity pattern table.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ComponentStatus is the liveness state of a monitored component.
type ComponentStatus string

const (
	ComponentUnknown ComponentStatus = "unknown"
	ComponentAlive   ComponentStatus = "alive"
	ComponentDead    ComponentStatus = "dead"
)

// MetricBaseline holds running statistics for one named metric.
type MetricBaseline struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Component is a snapshot of a monitored component.
type Component struct {
	ID              string                    `json:"id"`
	Type            string                    `json:"type"`
	Critical        bool                      `json:"critical"`
	LastHeartbeatAt time.Time                 `json:"last_heartbeat_at"`
	LastMetrics     map[string]float64        `json:"last_metrics,omitempty"`
	Status          ComponentStatus           `json:"status"`
	BaselineSamples int                       `json:"baseline_samples"`
	Baseline        map[string]MetricBaseline `json:"baseline,omitempty"`
	AnomalyCount    int                       `json:"anomaly_count"`
}

// Alert is raised by the health monitor.
type Alert struct {
	Type      string         `json:"type"` // anomaly, component_dead, resource_leak, stuck_process
	Severity  Severity       `json:"severity"`
	Component string         `json:"component"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ManifestEntry is the baseline record of one file. Modified and Updated are
// unix milliseconds.
type ManifestEntry struct {
	Hash     string `json:"hash"`
	Size     int64  `json:"size"`
	Modified int64  `json:"modified"`
	Updated  int64  `json:"updated"`
}

// Issue is a finding produced by the integrity checker.
type Issue struct {
	Type      string   `json:"type"`
	Severity  Severity `json:"severity"`
	File      string   `json:"file"`
	Message   string   `json:"message"`
	Pattern   string   `json:"pattern,omitempty"`
	Count     int      `json:"count,omitempty"`
	Line      int      `json:"line,omitempty"`
	Length    int      `json:"length,omitempty"`
	Component string   `json:"component,omitempty"`
	Expected  string   `json:"expected,omitempty"`
	Actual    string   `json:"actual,omitempty"`
}

// CandidateReason explains why a file is eligible for cleanup.
type CandidateReason string

const (
	ReasonExpired   CandidateReason = "expired"
	ReasonOversized CandidateReason = "oversized"
)

// Candidate is a file eligible for cleanup. Candidates are recomputed on every scan.
type Candidate struct {
	Path     string          `json:"path"`
	Name     string          `json:"name"`
	Size     int64           `json:"size"`
	Age      time.Duration   `json:"age"`
	Reason   CandidateReason `json:"reason"`
	Category string          `json:"category"`
	Error    string          `json:"error,omitempty"`
}

// Risk is the tier that governs who may approve a proposal.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// Risks lists every tier from lowest to highest.
var Risks = []Risk{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// ProposalStatus represents the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalPending    ProposalStatus = "pending"
	ProposalApproved   ProposalStatus = "approved"
	ProposalRejected   ProposalStatus = "rejected"
	ProposalApplied    ProposalStatus = "applied"
	ProposalFailed     ProposalStatus = "failed"
	ProposalRolledBack ProposalStatus = "rolled_back"
)

// Action is the filesystem operation a proposal performs.
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
	ActionMove   Action = "move"
)

// Proposal is one filesystem change awaiting risk-gated approval.
type Proposal struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Status    ProposalStatus `json:"status"`

	Type   string `json:"type"`
	Target string `json:"target"`
	Action Action `json:"action"`

	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
	Diff   string `json:"diff,omitempty"`

	LinesAdded   int `json:"lines_added,omitempty"`
	LinesRemoved int `json:"lines_removed,omitempty"`

	Reason      string `json:"reason,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`

	Risk       Risk `json:"risk"`
	Reversible bool `json:"reversible"`

	ApprovedBy      string     `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	AppliedAt         *time.Time `json:"applied_at,omitempty"`
	BackupPath        string     `json:"backup_path,omitempty"`
	RollbackAvailable bool       `json:"rollback_available"`
	RolledBackAt      *time.Time `json:"rolled_back_at,omitempty"`

	Error string `json:"error,omitempty"`
}

// HistoryEntry is the immutable record appended when a proposal is applied.
type HistoryEntry struct {
	ID                string    `json:"id"`
	Target            string    `json:"target"`
	Action            Action    `json:"action"`
	AppliedAt         time.Time `json:"applied_at"`
	RollbackAvailable bool      `json:"rollback_available"`
}

// ThreatStatus represents whether the decision authority has handled a threat.
type ThreatStatus string

const (
	ThreatPending  ThreatStatus = "pending"
	ThreatResolved ThreatStatus = "resolved"
)

// Threat is a normalized issue queued for the decision authority.
type Threat struct {
	ID         string       `json:"id"`
	Timestamp  time.Time    `json:"timestamp"`
	Source     string       `json:"source"`
	Type       string       `json:"type"`
	Severity   Severity     `json:"severity"`
	Component  string       `json:"component,omitempty"`
	Details    any          `json:"details,omitempty"`
	Status     ThreatStatus `json:"status"`
	Resolution string       `json:"resolution,omitempty"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	SubjectID  string    `json:"subject_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
