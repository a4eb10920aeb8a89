package engine

import (
	"context"
	"sync"

	"github.com/tomekzaw/expo/internal/loader"
	"github.com/tomekzaw/expo/internal/manifest"
	"github.com/tomekzaw/expo/internal/otalog"
	"github.com/tomekzaw/expo/internal/selection"
	"github.com/tomekzaw/expo/internal/statemachine"
)

// FetchResultKind classifies the outcome of FetchUpdate.
type FetchResultKind int

const (
	FetchSuccess FetchResultKind = iota
	FetchFailure
	FetchRollBackToEmbedded
	FetchError
)

// FetchResult is delivered to FetchUpdate's callback exactly once.
type FetchResult struct {
	Kind       FetchResultKind
	Manifest   *manifest.Manifest
	RollbackAt int64
	Err        error
}

// FetchUpdate implements fetchUpdate(cb): a one-shot Loader run that does
// download and persist a newer update if one exists, driving the
// StateMachine through its Download-class events.
func (e *Engine) FetchUpdate(ctx context.Context, cb func(FetchResult)) {
	go e.fetchUpdate(ctx, cb)
}

func (e *Engine) fetchUpdate(ctx context.Context, cb func(FetchResult)) {
	ctx = otalog.WithSource(ctx, otalog.EngineSource)
	e.machine.Post(statemachine.Event{Kind: statemachine.Check})

	current := e.currentLaunchableCandidate()

	l := loader.New(e.loaderConfig(), e.cat, e.store)
	fc := &fetchCallback{
		engine:  e,
		policy:  e.cfg.LoaderPolicy,
		filters: e.cfg.Filters,
		current: current,
	}
	l.Load(ctx, fc)

	fc.mu.Lock()
	result := fc.result
	fc.mu.Unlock()

	cb(result)
}

// fetchCallback implements loader.Callback for FetchUpdate: unlike
// checkCallback, it approves the download when SelectionPolicy says the
// manifest is newer, and posts a Download event exactly once before any
// asset activity.
type fetchCallback struct {
	engine          *Engine
	policy          selection.LoaderSelectionPolicy
	filters         selection.Filters
	current         selection.Candidate
	downloadStarted bool

	mu     sync.Mutex
	result FetchResult
}

func (c *fetchCallback) OnUpdateResponseLoaded(resp manifest.Response) bool {
	if resp.Directive != nil && resp.Directive.Type == manifest.RollBackToEmbedded {
		return false
	}
	if resp.Manifest == nil {
		return false
	}
	candidate := selection.Candidate{
		CommitTime:      loader.ParseCommitTime(resp.Manifest.CreatedAt),
		ManifestFilters: resp.ManifestFilters,
	}
	if !c.policy.ShouldLoadNewUpdate(candidate, c.current, c.filters) {
		return false
	}
	c.downloadStarted = true
	c.engine.machine.Post(statemachine.Event{Kind: statemachine.Download})
	return true
}

func (c *fetchCallback) OnAssetLoaded(manifest.Asset, int, int, int) {}

func (c *fetchCallback) OnSuccess(result loader.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case result.IsRollback:
		c.result = FetchResult{Kind: FetchRollBackToEmbedded, RollbackAt: result.RollbackAt}
		c.engine.machine.Post(statemachine.Event{Kind: statemachine.CheckCompleteWithRollback, RollbackCommit: result.RollbackAt})
		c.engine.recordRollbackIfApplicable(result.RollbackAt, c.current)
	case result.UpToDate:
		c.result = FetchResult{Kind: FetchFailure}
		c.engine.machine.Post(statemachine.Event{Kind: statemachine.CheckCompleteUnavailable})
	default:
		c.result = FetchResult{Kind: FetchSuccess, Manifest: result.Manifest}
		c.engine.machine.Post(statemachine.Event{Kind: statemachine.DownloadCompleteWithUpdate, Manifest: manifestJSON(result.Manifest)})
	}
}

func (c *fetchCallback) OnFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = FetchResult{Kind: FetchError, Err: err}
	if c.downloadStarted {
		c.engine.machine.Post(statemachine.Event{Kind: statemachine.DownloadError, Message: err.Error()})
	} else {
		c.engine.machine.Post(statemachine.Event{Kind: statemachine.CheckError, Message: err.Error()})
	}
}
