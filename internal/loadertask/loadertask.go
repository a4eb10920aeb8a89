// Package loadertask implements the cold-start orchestrator: it races a
// cached launchable update (gated by a launchWaitMs timer) against a
// fresh Loader invocation against the server, and delivers exactly one
// terminal onSuccess/onFailure callback.
package loadertask

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tomekzaw/expo/internal/catalog"
	"github.com/tomekzaw/expo/internal/filestore"
	"github.com/tomekzaw/expo/internal/launcher"
	"github.com/tomekzaw/expo/internal/loader"
	"github.com/tomekzaw/expo/internal/manifest"
	"github.com/tomekzaw/expo/internal/otalog"
	"github.com/tomekzaw/expo/internal/selection"
	"github.com/tomekzaw/expo/internal/syncutil"
)

// Callback receives every event of the run sequence. Run serializes every
// call onto a single logical caller, even though the cached-update path
// and the live Loader path race on separate goroutines internally, so
// implementations need no locking of their own ("ordering guarantee").
type Callback interface {
	// OnCachedUpdateLoaded reports the best stored launchable candidate, if
	// any. Returning true arms the launchWaitMs timer.
	OnCachedUpdateLoaded(update selection.Candidate) (armTimer bool)
	OnRemoteCheckForUpdateStarted()
	OnRemoteCheckForUpdateFinished()
	OnRemoteUpdateLoadStarted(update *manifest.Manifest)
	OnRemoteUpdateFinished(status RemoteUpdateStatus, update *manifest.Manifest, rollbackAt int64, err error)
	// OnSuccess is delivered exactly once.
	OnSuccess(result *launcher.Launcher, isUpToDate bool)
	// OnFailure is delivered when no launcher can be produced: there is no
	// cached candidate and the remote Loader loads no new update (it fails
	// or reports none), building the chosen launcher fails, or ctx is
	// cancelled first.
	OnFailure(err error)
}

// serializedCallback wraps a Callback with a mutex so that every method
// call, whether it originates from Run's own goroutine or from the
// spawned runLoader goroutine, is serialized onto a single logical
// caller, upholding the ordering guarantee documented on Callback.
type serializedCallback struct {
	mu sync.Mutex
	cb Callback
}

func (s *serializedCallback) OnCachedUpdateLoaded(update selection.Candidate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb.OnCachedUpdateLoaded(update)
}

func (s *serializedCallback) OnRemoteCheckForUpdateStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb.OnRemoteCheckForUpdateStarted()
}

func (s *serializedCallback) OnRemoteCheckForUpdateFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb.OnRemoteCheckForUpdateFinished()
}

func (s *serializedCallback) OnRemoteUpdateLoadStarted(update *manifest.Manifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb.OnRemoteUpdateLoadStarted(update)
}

func (s *serializedCallback) OnRemoteUpdateFinished(status RemoteUpdateStatus, update *manifest.Manifest, rollbackAt int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb.OnRemoteUpdateFinished(status, update, rollbackAt, err)
}

func (s *serializedCallback) OnSuccess(result *launcher.Launcher, isUpToDate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb.OnSuccess(result, isUpToDate)
}

func (s *serializedCallback) OnFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb.OnFailure(err)
}

// RemoteUpdateStatus classifies the terminal remote outcome delivered via
// OnRemoteUpdateFinished.
type RemoteUpdateStatus int

const (
	RemoteStatusNoUpdateAvailable RemoteUpdateStatus = iota
	RemoteStatusUpdateAvailable
	RemoteStatusRollBackToEmbedded
	RemoteStatusError
)

// Config configures one LoaderTask run.
type Config struct {
	ScopeKey        string
	RuntimeVersion  string
	LoaderConfig    loader.Config
	LaunchWaitMs    int
	Policy          selection.LauncherSelectionPolicy
	Filters         selection.Filters
	BundleAssetName string
}

// Task runs exactly one cold-start cycle.
type Task struct {
	cfg     Config
	catalog *catalog.Catalog
	store   *filestore.Store
}

func New(cfg Config, cat *catalog.Catalog, store *filestore.Store) *Task {
	return &Task{cfg: cfg, catalog: cat, store: store}
}

// Run executes the cold-start sequence and blocks until the terminal
// callback has been delivered. The in-flight Loader, if still running
// when a cached launcher wins on timer expiry, continues in the
// background: Run returns only after onSuccess/onFailure is delivered,
// but the remote events it spawned keep flowing to cb until
// OnRemoteUpdateFinished.
func (t *Task) Run(ctx context.Context, cb Callback) {
	ctx = otalog.WithSource(ctx, otalog.EngineSource)
	cb = &serializedCallback{cb: cb}
	cond := syncutil.NewCond()

	var cached *selection.Candidate
	if candidates, err := t.catalog.LaunchableCandidates(t.cfg.ScopeKey); err == nil {
		cached = t.cfg.Policy.ChooseLauncherUpdate(toSelectionCandidates(candidates), t.cfg.Filters)
	} else {
		log.WithContext(ctx).Warnf("loadertask: failed to load cached candidates: %v", err)
	}

	var timerFired <-chan time.Time
	if cached != nil {
		if cb.OnCachedUpdateLoaded(*cached) {
			timer := time.NewTimer(time.Duration(t.cfg.LaunchWaitMs) * time.Millisecond)
			defer timer.Stop()
			timerFired = timer.C
		}
	}

	remoteUpToDate := make(chan struct{}, 1)
	remoteNewUpdate := make(chan catalog.UpdateEntity, 1)
	remoteDone := make(chan struct{})

	cb.OnRemoteCheckForUpdateStarted()
	go t.runLoader(ctx, cb, cached, remoteUpToDate, remoteNewUpdate, remoteDone)

	buildCached := func() (*launcher.Launcher, error) {
		if cached.Embedded {
			return launcher.Embedded(t.cfg.BundleAssetName), nil
		}
		return launcher.Build(t.catalog, t.store, candidateToEntity(*cached))
	}
	deliverCached := func() {
		cond.Do(func() {
			result, err := buildCached()
			if err != nil {
				log.WithContext(ctx).Errorf("loadertask: failed to build launcher for cached update: %v", err)
				cb.OnFailure(err)
				return
			}
			// The remote check hasn't resolved yet; this cached launcher is a
			// best-effort answer, not a confirmed up-to-date one.
			cb.OnSuccess(result, false)
		})
	}
	deliverUpToDate := func() {
		cond.Do(func() {
			result, err := buildCached()
			if err != nil {
				cb.OnFailure(err)
				return
			}
			cb.OnSuccess(result, true)
		})
	}
	deliverNew := func(update catalog.UpdateEntity) {
		cond.Do(func() {
			result, err := launcher.Build(t.catalog, t.store, update)
			if err != nil {
				cb.OnFailure(err)
				return
			}
			cb.OnSuccess(result, false)
		})
	}
	deliverFailure := func(err error) {
		cond.Do(func() { cb.OnFailure(err) })
	}

	for {
		select {
		case <-timerFired:
			timerFired = nil
			if cached != nil {
				deliverCached()
			}
			if cond.Done() {
				return
			}
		case <-remoteUpToDate:
			if cached != nil {
				deliverUpToDate()
				return
			}
			// No cache and no update: nothing to launch from here; wait for
			// remoteDone to decide between failure and the (impossible in
			// this branch) new-update path.
		case update := <-remoteNewUpdate:
			deliverNew(update)
			return
		case <-remoteDone:
			if !cond.Done() {
				deliverFailure(errNoLauncherAvailable)
			}
			return
		case <-ctx.Done():
			if !cond.Done() {
				deliverFailure(ctx.Err())
			}
			return
		}
	}
}

func toSelectionCandidates(rows []catalog.UpdateEntity) []selection.Candidate {
	out := make([]selection.Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, entityToCandidate(r))
	}
	return out
}

func entityToCandidate(r catalog.UpdateEntity) selection.Candidate {
	return selection.Candidate{
		ID:                    r.ID,
		CommitTime:            r.CommitTime,
		RuntimeVersion:        r.RuntimeVersion,
		FailedLaunchCount:     r.FailedLaunchCount,
		SuccessfulLaunchCount: r.SuccessfulLaunchCount,
		Embedded:              r.Status == catalog.StatusEmbedded,
		ManifestFilters:       r.ManifestFilters(),
	}
}

// candidateToEntity re-wraps a Candidate as the minimal UpdateEntity
// launcher.Build needs (it only reads ID).
func candidateToEntity(c selection.Candidate) catalog.UpdateEntity {
	return catalog.UpdateEntity{ID: c.ID}
}
