// Package selection implements the pure, side-effect-free decision
// functions that choose which stored update to launch, which remote
// update to download, and which stored updates the Reaper may delete.
// Nothing in this package touches the filesystem, the network, or the
// database — it only ever looks at the structs passed to it, so every
// function here is trivially property-testable.
package selection

// Candidate is the subset of UpdateEntity that SelectionPolicy needs to
// make a decision. It is decoupled from the catalog package so this
// package stays a pure function library with no storage dependency.
type Candidate struct {
	ID                    string
	CommitTime            int64
	RuntimeVersion        string
	ManifestFilters       map[string]string
	FailedLaunchCount     int
	SuccessfulLaunchCount int
	Embedded              bool
}

// Filters are the server-driven manifestFilters predicates a client
// evaluates a candidate against.
type Filters map[string]string

// Matches reports whether candidate's manifestFilters are all satisfied by
// the currently-effective filters. An unset filter key in candidate always
// matches; a set key must match byte-for-byte.
func (f Filters) Matches(candidate Candidate) bool {
	for key, want := range f {
		if got, ok := candidate.ManifestFilters[key]; ok && got != want {
			return false
		}
	}
	return true
}

// RollbackDirective is the decoded RollBackToEmbedded server directive.
type RollbackDirective struct {
	CommitTime int64
}

// eligibleForLaunch excludes an update that has failed at least once and
// never succeeded, per chooseLauncherUpdate's exclusion rule.
func eligibleForLaunch(c Candidate) bool {
	return !(c.FailedLaunchCount >= 1 && c.SuccessfulLaunchCount == 0)
}
