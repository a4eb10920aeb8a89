package selection

import "sort"

// LauncherSelectionPolicy picks the best stored update to launch.
type LauncherSelectionPolicy interface {
	ChooseLauncherUpdate(candidates []Candidate, filters Filters) *Candidate
}

// LoaderSelectionPolicy decides whether a freshly-fetched manifest or
// directive is worth loading over what is currently launched.
type LoaderSelectionPolicy interface {
	ShouldLoadNewUpdate(candidate Candidate, currentlyLaunched Candidate, filters Filters) bool
	ShouldLoadRollbackDirective(directive RollbackDirective, embedded Candidate, currentlyLaunched Candidate, filters Filters) bool
}

// ReaperSelectionPolicy decides which stored updates are eligible for
// deletion by the Reaper.
type ReaperSelectionPolicy interface {
	UpdatesToDelete(all []Candidate, currentlyLaunchedID string, newest *Candidate) []Candidate
}

// DefaultLauncherSelectionPolicy implements chooseLauncherUpdate: among
// compatible, filter-matching, non-excluded candidates, pick the largest
// commitTime, breaking ties by id.
type DefaultLauncherSelectionPolicy struct {
	RuntimeVersion string
}

func (p DefaultLauncherSelectionPolicy) ChooseLauncherUpdate(candidates []Candidate, filters Filters) *Candidate {
	var best *Candidate
	for i := range candidates {
		c := candidates[i]
		if !c.Embedded && c.RuntimeVersion != p.RuntimeVersion {
			continue
		}
		if !filters.Matches(c) {
			continue
		}
		if !c.Embedded && !eligibleForLaunch(c) {
			continue
		}
		if best == nil || betterLauncherCandidate(c, *best) {
			best = &candidates[i]
		}
	}
	return best
}

func betterLauncherCandidate(a, b Candidate) bool {
	if a.CommitTime != b.CommitTime {
		return a.CommitTime > b.CommitTime
	}
	return a.ID < b.ID
}

// DefaultLoaderSelectionPolicy implements shouldLoadNewUpdate and
// shouldLoadRollbackDirective.
type DefaultLoaderSelectionPolicy struct{}

func (DefaultLoaderSelectionPolicy) ShouldLoadNewUpdate(candidate, currentlyLaunched Candidate, filters Filters) bool {
	if !filters.Matches(candidate) {
		return false
	}
	return candidate.CommitTime > currentlyLaunched.CommitTime
}

func (DefaultLoaderSelectionPolicy) ShouldLoadRollbackDirective(directive RollbackDirective, embedded, currentlyLaunched Candidate, filters Filters) bool {
	if !filters.Matches(embedded) {
		return false
	}
	return directive.CommitTime > currentlyLaunched.CommitTime
}

// DefaultReaperSelectionPolicy keeps the currently-launched update, the
// newest launchable update, the embedded update, and deletes everything
// else older than the newest launchable.
type DefaultReaperSelectionPolicy struct{}

func (DefaultReaperSelectionPolicy) UpdatesToDelete(all []Candidate, currentlyLaunchedID string, newest *Candidate) []Candidate {
	var doomed []Candidate
	for _, c := range all {
		if c.Embedded || c.ID == currentlyLaunchedID {
			continue
		}
		if newest != nil && c.ID == newest.ID {
			continue
		}
		if newest != nil && c.CommitTime >= newest.CommitTime {
			continue
		}
		doomed = append(doomed, c)
	}
	sort.Slice(doomed, func(i, j int) bool { return doomed[i].ID < doomed[j].ID })
	return doomed
}

// DevelopmentReaperSelectionPolicy keeps all updates except the currently
// launched one, for the developer client.
type DevelopmentReaperSelectionPolicy struct{}

func (DevelopmentReaperSelectionPolicy) UpdatesToDelete(all []Candidate, currentlyLaunchedID string, _ *Candidate) []Candidate {
	var doomed []Candidate
	for _, c := range all {
		if c.Embedded || c.ID == currentlyLaunchedID {
			continue
		}
		doomed = append(doomed, c)
	}
	return doomed
}
