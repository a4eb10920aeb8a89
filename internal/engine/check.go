package engine

import (
	"context"

	"github.com/tomekzaw/expo/internal/loader"
	"github.com/tomekzaw/expo/internal/manifest"
	"github.com/tomekzaw/expo/internal/otalog"
	"github.com/tomekzaw/expo/internal/selection"
	"github.com/tomekzaw/expo/internal/statemachine"
)

// CheckResultKind classifies the outcome of CheckForUpdate.
type CheckResultKind int

const (
	CheckNoUpdateAvailable CheckResultKind = iota
	CheckUpdateAvailable
	CheckRollBackToEmbedded
	CheckError
)

// CheckResult is delivered to CheckForUpdate's callback exactly once.
type CheckResult struct {
	Kind       CheckResultKind
	Manifest   *manifest.Manifest
	RollbackAt int64
	Err        error
}

// CheckForUpdate implements checkForUpdate(cb): a one-shot remote check,
// run through SelectionPolicy, that never downloads assets (that is
// FetchUpdate's job) and always drives the StateMachine to a terminal
// Check-class event before invoking cb, with no silent "constructed but not
// sent" branch.
func (e *Engine) CheckForUpdate(ctx context.Context, cb func(CheckResult)) {
	go e.checkForUpdate(ctx, cb)
}

func (e *Engine) checkForUpdate(ctx context.Context, cb func(CheckResult)) {
	ctx = otalog.WithSource(ctx, otalog.EngineSource)
	e.machine.Post(statemachine.Event{Kind: statemachine.Check})

	current := e.currentLaunchableCandidate()

	l := loader.New(e.loaderConfig(), e.cat, e.store)
	cc := &checkCallback{
		policy:  e.cfg.LoaderPolicy,
		filters: e.cfg.Filters,
		current: current,
		done:    make(chan CheckResult, 1),
	}
	l.Load(ctx, cc)
	result := <-cc.done

	switch result.Kind {
	case CheckNoUpdateAvailable:
		e.machine.Post(statemachine.Event{Kind: statemachine.CheckCompleteUnavailable})
	case CheckUpdateAvailable:
		e.machine.Post(statemachine.Event{Kind: statemachine.CheckCompleteWithUpdate, Manifest: manifestJSON(result.Manifest)})
	case CheckRollBackToEmbedded:
		e.machine.Post(statemachine.Event{Kind: statemachine.CheckCompleteWithRollback, RollbackCommit: result.RollbackAt})
		e.recordRollbackIfApplicable(result.RollbackAt, current)
	case CheckError:
		e.machine.Post(statemachine.Event{Kind: statemachine.CheckError, Message: result.Err.Error()})
	}

	cb(result)
}

// checkCallback implements loader.Callback without ever downloading: it
// always vetoes the download in OnUpdateResponseLoaded and reports its
// decision through done instead of through loader.Result.
type checkCallback struct {
	policy  selection.LoaderSelectionPolicy
	filters selection.Filters
	current selection.Candidate
	done    chan CheckResult
}

func (c *checkCallback) OnUpdateResponseLoaded(resp manifest.Response) bool {
	switch {
	case resp.Directive != nil && resp.Directive.Type == manifest.RollBackToEmbedded:
		c.done <- CheckResult{Kind: CheckRollBackToEmbedded, RollbackAt: resp.Directive.CommitTime}
	case resp.Manifest == nil:
		c.done <- CheckResult{Kind: CheckNoUpdateAvailable}
	default:
		candidate := selection.Candidate{
			CommitTime:      loader.ParseCommitTime(resp.Manifest.CreatedAt),
			ManifestFilters: resp.ManifestFilters,
		}
		if c.policy.ShouldLoadNewUpdate(candidate, c.current, c.filters) {
			c.done <- CheckResult{Kind: CheckUpdateAvailable, Manifest: resp.Manifest}
		} else {
			c.done <- CheckResult{Kind: CheckNoUpdateAvailable}
		}
	}
	return false
}

func (c *checkCallback) OnAssetLoaded(manifest.Asset, int, int, int) {}

func (c *checkCallback) OnSuccess(loader.Result) {}

func (c *checkCallback) OnFailure(err error) {
	c.done <- CheckResult{Kind: CheckError, Err: err}
}
