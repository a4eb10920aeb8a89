package engine

import (
	log "github.com/sirupsen/logrus"

	"github.com/tomekzaw/expo/internal/catalog"
	"github.com/tomekzaw/expo/internal/selection"
)

// currentLaunchableCandidate returns the SelectionPolicy's pick among
// whatever the Catalog currently considers launchable, or the zero
// Candidate if nothing qualifies yet.
func (e *Engine) currentLaunchableCandidate() selection.Candidate {
	var current selection.Candidate
	if candidates, err := e.cat.LaunchableCandidates(e.cfg.ScopeKey); err == nil {
		if best := e.cfg.LauncherPolicy.ChooseLauncherUpdate(entityCandidatesToSelection(candidates), e.cfg.Filters); best != nil {
			current = *best
		}
	}
	return current
}

// embeddedCandidate returns the catalog row for the binary-shipped update,
// if one has been recorded.
func (e *Engine) embeddedCandidate() (selection.Candidate, bool) {
	candidates, err := e.cat.LaunchableCandidates(e.cfg.ScopeKey)
	if err != nil {
		return selection.Candidate{}, false
	}
	for _, c := range candidates {
		if c.Status == catalog.StatusEmbedded {
			return entityCandidatesToSelection([]catalog.UpdateEntity{c})[0], true
		}
	}
	return selection.Candidate{}, false
}

// recordRollbackIfApplicable gates a RollBackToEmbedded directive through
// LoaderPolicy.ShouldLoadRollbackDirective and, if it wins, persists the
// decision so the next Reload resolves to the embedded update instead of
// the newest stored one.
func (e *Engine) recordRollbackIfApplicable(commitTime int64, current selection.Candidate) {
	embedded, ok := e.embeddedCandidate()
	if !ok {
		return
	}
	directive := selection.RollbackDirective{CommitTime: commitTime}
	if !e.cfg.LoaderPolicy.ShouldLoadRollbackDirective(directive, embedded, current, e.cfg.Filters) {
		return
	}
	if err := e.cat.SetRollbackDirective(commitTime); err != nil {
		log.Warnf("engine: failed to persist rollback directive: %v", err)
	}
}
