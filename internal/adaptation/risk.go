package adaptation

import (
	"strings"

	"github.com/fentz26/guardian/internal/models"
)

// riskByType is the fallback when the target path names no known area.
var riskByType = map[string]models.Risk{
	"config":    models.RiskLow,
	"procedure": models.RiskMedium,
	"adapter":   models.RiskMedium,
	"knowledge": models.RiskMedium,
	"reasoning": models.RiskHigh,
	"learning":  models.RiskHigh,
	"core":      models.RiskCritical,
	"guardian":  models.RiskCritical,
}

// pathRules are checked in order; the first rule with a matching substring
// wins. A path naming both "config" and "core" is therefore critical.
var pathRules = []struct {
	risk  models.Risk
	terms []string
}{
	{models.RiskCritical, []string{"core", "reasoning", "guardian"}},
	{models.RiskHigh, []string{"learning", "knowledge", "identity"}},
	{models.RiskMedium, []string{"procedure", "adapter"}},
	{models.RiskLow, []string{"config", ".json"}},
}

// AssessRisk classifies a change by its target path, falling back to its type.
func AssessRisk(c Change) models.Risk {
	target := strings.ToLower(c.Target)
	for _, rule := range pathRules {
		for _, term := range rule.terms {
			if strings.Contains(target, term) {
				return rule.risk
			}
		}
	}
	if r, ok := riskByType[strings.ToLower(c.Type)]; ok {
		return r
	}
	return models.RiskMedium
}

// authorize enforces the approver rule for a risk tier.
func authorize(risk models.Risk, approver string) error {
	switch risk {
	case models.RiskCritical:
		if approver != ApproverHuman {
			return ErrHumanApproval
		}
	case models.RiskHigh:
		if approver != ApproverHuman && approver != ApproverCoreVerified {
			return ErrHighRiskApprover
		}
	}
	return nil
}
