package loadertask

import (
	"context"
	"errors"

	"github.com/tomekzaw/expo/internal/catalog"
	"github.com/tomekzaw/expo/internal/loader"
	"github.com/tomekzaw/expo/internal/manifest"
	"github.com/tomekzaw/expo/internal/selection"
)

var errNoLauncherAvailable = errors.New("loadertask: no cached update and no new remote update")

// runLoader drives one Loader invocation and translates its callbacks into
// the onRemote* event sequence plus the internal signal channels Run
// selects on. It is the only place LoaderTask talks to the Loader.
func (t *Task) runLoader(
	ctx context.Context,
	cb Callback,
	cached *selection.Candidate,
	remoteUpToDate chan<- struct{},
	remoteNewUpdate chan<- catalog.UpdateEntity,
	remoteDone chan<- struct{},
) {
	defer close(remoteDone)

	loaderPolicy := selection.DefaultLoaderSelectionPolicy{}
	currentCommitTime := int64(0)
	if cached != nil {
		currentCommitTime = cached.CommitTime
	}

	fwd := &forwardingCallback{
		cb:                cb,
		loaderPolicy:      loaderPolicy,
		currentCommitTime: currentCommitTime,
		filters:           t.cfg.Filters,
		remoteUpToDate:    remoteUpToDate,
		remoteNewUpdate:   remoteNewUpdate,
		scopeKey:          t.cfg.ScopeKey,
		catalog:           t.catalog,
	}

	l := loader.New(t.cfg.LoaderConfig, t.catalog, t.store)
	l.Load(ctx, fwd)
}

// forwardingCallback adapts loader.Callback to the onRemote* sequence.
type forwardingCallback struct {
	cb                Callback
	loaderPolicy      selection.DefaultLoaderSelectionPolicy
	currentCommitTime int64
	filters           selection.Filters
	remoteUpToDate    chan<- struct{}
	remoteNewUpdate   chan<- catalog.UpdateEntity
	scopeKey          string
	catalog           *catalog.Catalog
}

func (f *forwardingCallback) OnUpdateResponseLoaded(resp manifest.Response) bool {
	f.cb.OnRemoteCheckForUpdateFinished()

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
	if !f.loaderPolicy.ShouldLoadNewUpdate(candidate, selection.Candidate{CommitTime: f.currentCommitTime}, f.filters) {
		return false
	}

	f.cb.OnRemoteUpdateLoadStarted(resp.Manifest)
	return true
}

func (f *forwardingCallback) OnAssetLoaded(asset manifest.Asset, successful, failed, total int) {}

func (f *forwardingCallback) OnSuccess(result loader.Result) {
	switch {
	case result.IsRollback:
		f.cb.OnRemoteUpdateFinished(RemoteStatusRollBackToEmbedded, nil, result.RollbackAt, nil)
		f.remoteUpToDate <- struct{}{}
	case result.UpToDate:
		f.cb.OnRemoteUpdateFinished(RemoteStatusNoUpdateAvailable, nil, 0, nil)
		f.remoteUpToDate <- struct{}{}
	default:
		f.cb.OnRemoteUpdateFinished(RemoteStatusUpdateAvailable, result.Manifest, 0, nil)
		rows, err := f.catalog.LaunchableCandidates(f.scopeKey)
		if err != nil {
			return
		}
		for _, row := range rows {
			if row.ID == result.Manifest.ID {
				f.remoteNewUpdate <- row
				return
			}
		}
	}
}

func (f *forwardingCallback) OnFailure(err error) {
	f.cb.OnRemoteUpdateFinished(RemoteStatusError, nil, 0, err)
}

