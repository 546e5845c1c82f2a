package integrity

import (
	"regexp"

	"github.com/fentz26/guardian/internal/models"
)

// Pattern is one suspicious-content rule. Severities are fixed per rule.
type Pattern struct {
	Name     string
	Severity models.Severity
	Regexp   *regexp.Regexp
}

// Patterns is the static rule table applied by ScanFile.
var Patterns = []Pattern{
	{Name: "dangerous_shell", Severity: models.SeverityCritical, Regexp: regexp.MustCompile(`rm\s+-rf`)},
	{Name: "eval_usage", Severity: models.SeverityHigh, Regexp: regexp.MustCompile(`\beval\s*\(`)},
	{Name: "function_constructor", Severity: models.SeverityHigh, Regexp: regexp.MustCompile(`\bnew\s+Function\s*\(`)},
	{Name: "unfiltered_delete", Severity: models.SeverityHigh, Regexp: regexp.MustCompile(`(?im)DELETE\s+FROM.*WHERE\s*$`)},
	{Name: "child_process_import", Severity: models.SeverityMedium, Regexp: regexp.MustCompile(`child_process`)},
	{Name: "exec_import", Severity: models.SeverityMedium, Regexp: regexp.MustCompile(`"os/exec"`)},
	{Name: "proto_access", Severity: models.SeverityMedium, Regexp: regexp.MustCompile(`__proto__`)},
	{Name: "infinite_loop", Severity: models.SeverityMedium, Regexp: regexp.MustCompile(`while\s*\(\s*true\s*\)`)},
	{Name: "parent_dir_import", Severity: models.SeverityLow, Regexp: regexp.MustCompile("(?:require\\s*\\(\\s*|from\\s+|import\\s+)['\"`]\\.\\.")},
	{Name: "env_access", Severity: models.SeverityInfo, Regexp: regexp.MustCompile(`process\.env|os\.Getenv\(`)},
}
