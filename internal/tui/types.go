package tui

import (
	"time"

	"github.com/fentz26/guardian/internal/models"
)

type tab int

const (
	tabThreats tab = iota
	tabProposals
)

func (t tab) String() string {
	if t == tabProposals {
		return "Proposals"
	}
	return "Threats"
}

type errMsg struct {
	err error
}

type tickMsg time.Time

type dataLoadedMsg struct {
	threats   []models.Threat
	proposals []models.Proposal
}

type daemonStatusMsg struct {
	online bool
}

type resolvedMsg struct {
	threat *models.Threat
}
