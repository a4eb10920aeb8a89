package selection

import "sync"

// OneShotPolicy resolves the fragile interaction between
// setNextSelectionPolicy and resetSelectionPolicyToDefault in the
// developer-launcher path: it wraps a LauncherSelectionPolicy so the
// wrapped policy is used for exactly one ChooseLauncherUpdate call and then
// reverts to fallback, instead of leaving "use this once" as an implicit,
// easy-to-forget contract between two separate setter calls.
type OneShotPolicy struct {
	mu       sync.Mutex
	next     LauncherSelectionPolicy
	fallback LauncherSelectionPolicy
}

// NewOneShotPolicy wraps fallback, the policy used once no one-shot policy
// has been armed (or after it has been consumed).
func NewOneShotPolicy(fallback LauncherSelectionPolicy) *OneShotPolicy {
	return &OneShotPolicy{fallback: fallback}
}

// Arm installs a policy to be used for exactly the next ChooseLauncherUpdate
// call.
func (p *OneShotPolicy) Arm(policy LauncherSelectionPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = policy
}

// ChooseLauncherUpdate implements LauncherSelectionPolicy, consuming the
// armed policy if any.
func (p *OneShotPolicy) ChooseLauncherUpdate(candidates []Candidate, filters Filters) *Candidate {
	p.mu.Lock()
	active := p.fallback
	if p.next != nil {
		active = p.next
		p.next = nil
	}
	p.mu.Unlock()

	return active.ChooseLauncherUpdate(candidates, filters)
}

// ResetToDefault clears any armed one-shot policy, reverting early.
func (p *OneShotPolicy) ResetToDefault() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = nil
}
