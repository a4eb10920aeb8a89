package selection

import "testing"

func TestChooseLauncherUpdatePicksLargestCommitTime(t *testing.T) {
	policy := DefaultLauncherSelectionPolicy{RuntimeVersion: "1.0.0"}
	candidates := []Candidate{
		{ID: "a", CommitTime: 100, RuntimeVersion: "1.0.0"},
		{ID: "b", CommitTime: 200, RuntimeVersion: "1.0.0"},
	}

	got := policy.ChooseLauncherUpdate(candidates, nil)
	if got == nil || got.ID != "b" {
		t.Fatalf("expected b, got %+v", got)
	}
}

func TestChooseLauncherUpdateBreaksTiesByID(t *testing.T) {
	policy := DefaultLauncherSelectionPolicy{RuntimeVersion: "1.0.0"}
	candidates := []Candidate{
		{ID: "zzz", CommitTime: 100, RuntimeVersion: "1.0.0"},
		{ID: "aaa", CommitTime: 100, RuntimeVersion: "1.0.0"},
	}

	got := policy.ChooseLauncherUpdate(candidates, nil)
	if got == nil || got.ID != "aaa" {
		t.Fatalf("expected aaa, got %+v", got)
	}
}

func TestChooseLauncherUpdateExcludesFailedNeverSucceeded(t *testing.T) {
	policy := DefaultLauncherSelectionPolicy{RuntimeVersion: "1.0.0"}
	candidates := []Candidate{
		{ID: "bad", CommitTime: 300, RuntimeVersion: "1.0.0", FailedLaunchCount: 1, SuccessfulLaunchCount: 0},
		{ID: "ok", CommitTime: 200, RuntimeVersion: "1.0.0", FailedLaunchCount: 1, SuccessfulLaunchCount: 1},
	}

	got := policy.ChooseLauncherUpdate(candidates, nil)
	if got == nil || got.ID != "ok" {
		t.Fatalf("expected ok, got %+v", got)
	}
}

func TestChooseLauncherUpdateRejectsWrongRuntimeVersion(t *testing.T) {
	policy := DefaultLauncherSelectionPolicy{RuntimeVersion: "2.0.0"}
	candidates := []Candidate{{ID: "a", CommitTime: 100, RuntimeVersion: "1.0.0"}}

	if got := policy.ChooseLauncherUpdate(candidates, nil); got != nil {
		t.Fatalf("expected no candidate, got %+v", got)
	}
}

func TestChooseLauncherUpdateIsDeterministic(t *testing.T) {
	policy := DefaultLauncherSelectionPolicy{RuntimeVersion: "1.0.0"}
	candidates := []Candidate{
		{ID: "a", CommitTime: 100, RuntimeVersion: "1.0.0"},
		{ID: "b", CommitTime: 200, RuntimeVersion: "1.0.0"},
		{ID: "c", CommitTime: 150, RuntimeVersion: "1.0.0"},
	}

	first := policy.ChooseLauncherUpdate(candidates, nil)
	second := policy.ChooseLauncherUpdate(candidates, nil)
	if first.ID != second.ID {
		t.Fatalf("expected deterministic result, got %s then %s", first.ID, second.ID)
	}
}

func TestShouldLoadNewUpdate(t *testing.T) {
	policy := DefaultLoaderSelectionPolicy{}
	current := Candidate{CommitTime: 100}

	if !policy.ShouldLoadNewUpdate(Candidate{CommitTime: 200}, current, nil) {
		t.Fatal("expected true for newer candidate")
	}
	if policy.ShouldLoadNewUpdate(Candidate{CommitTime: 50}, current, nil) {
		t.Fatal("expected false for older candidate")
	}
}

func TestShouldLoadRollbackDirective(t *testing.T) {
	policy := DefaultLoaderSelectionPolicy{}
	current := Candidate{CommitTime: 300}
	embedded := Candidate{CommitTime: 100, ManifestFilters: map[string]string{"env": "prod"}}

	if !policy.ShouldLoadRollbackDirective(RollbackDirective{CommitTime: 400}, embedded, current, Filters{"env": "prod"}) {
		t.Fatal("expected true: directive newer and embedded matches filters")
	}
	if policy.ShouldLoadRollbackDirective(RollbackDirective{CommitTime: 200}, embedded, current, Filters{"env": "prod"}) {
		t.Fatal("expected false: directive older than currently launched")
	}
}

func TestReaperKeepsLaunchedNewestAndEmbedded(t *testing.T) {
	policy := DefaultReaperSelectionPolicy{}
	newest := Candidate{ID: "newest", CommitTime: 300}
	all := []Candidate{
		newest,
		{ID: "launched", CommitTime: 250},
		{ID: "embedded", CommitTime: 100, Embedded: true},
		{ID: "old", CommitTime: 150},
	}

	doomed := policy.UpdatesToDelete(all, "launched", &newest)
	if len(doomed) != 1 || doomed[0].ID != "old" {
		t.Fatalf("expected only 'old' to be doomed, got %+v", doomed)
	}
}

func TestDevelopmentReaperKeepsEverythingButLaunched(t *testing.T) {
	policy := DevelopmentReaperSelectionPolicy{}
	all := []Candidate{
		{ID: "a", CommitTime: 100},
		{ID: "launched", CommitTime: 200},
		{ID: "embedded", CommitTime: 50, Embedded: true},
	}

	doomed := policy.UpdatesToDelete(all, "launched", nil)
	if len(doomed) != 1 || doomed[0].ID != "a" {
		t.Fatalf("expected only 'a' to be doomed, got %+v", doomed)
	}
}

func TestOneShotPolicyConsumesArmedPolicyOnce(t *testing.T) {
	fallback := DefaultLauncherSelectionPolicy{RuntimeVersion: "1.0.0"}
	oneShot := NewOneShotPolicy(fallback)

	calls := 0
	probe := probePolicy{onCall: func() { calls++ }}
	oneShot.Arm(probe)

	candidates := []Candidate{{ID: "a", CommitTime: 100, RuntimeVersion: "1.0.0"}}
	oneShot.ChooseLauncherUpdate(candidates, nil)
	oneShot.ChooseLauncherUpdate(candidates, nil)

	if calls != 1 {
		t.Fatalf("expected armed policy to be used exactly once, used %d times", calls)
	}
}

type probePolicy struct {
	onCall func()
}

func (p probePolicy) ChooseLauncherUpdate(candidates []Candidate, filters Filters) *Candidate {
	p.onCall()
	if len(candidates) == 0 {
		return nil
	}
	return &candidates[0]
}
