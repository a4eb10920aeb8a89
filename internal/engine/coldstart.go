package engine

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/tomekzaw/expo/internal/catalog"
	"github.com/tomekzaw/expo/internal/launcher"
	"github.com/tomekzaw/expo/internal/loadertask"
	"github.com/tomekzaw/expo/internal/manifest"
	"github.com/tomekzaw/expo/internal/recovery"
	"github.com/tomekzaw/expo/internal/selection"
	"github.com/tomekzaw/expo/internal/statemachine"
)

// coldStartCallback bridges loadertask's onRemote* event sequence into the
// two things the Engine needs from it: StateMachine transitions and the
// launchAssetFile barrier. downloadStarted tracks whether a Download event
// has already been posted, so a terminal error is classified as CheckError
// or DownloadError correctly; loadertask guarantees these methods are
// called serially, so no lock is needed.
type coldStartCallback struct {
	engine          *Engine
	downloadStarted bool
}

func (c *coldStartCallback) OnCachedUpdateLoaded(update selection.Candidate) bool {
	// Always arm the timer: a zero launchWaitMs still needs a
	// time.NewTimer(0) tick to deliver the cached candidate instead of
	// blocking launchAssetFile on the remote Loader.
	return true
}

func (c *coldStartCallback) OnRemoteCheckForUpdateStarted() {
	c.engine.machine.Post(statemachine.Event{Kind: statemachine.Check})
}

func (c *coldStartCallback) OnRemoteCheckForUpdateFinished() {}

func (c *coldStartCallback) OnRemoteUpdateLoadStarted(m *manifest.Manifest) {
	c.downloadStarted = true
	c.engine.machine.Post(statemachine.Event{Kind: statemachine.CheckCompleteWithUpdate, Manifest: manifestJSON(m)})
	c.engine.machine.Post(statemachine.Event{Kind: statemachine.Download})
	c.engine.notifyRemoteLoadStatus(recovery.RemoteLoadNewUpdateLoading)
}

func (c *coldStartCallback) OnRemoteUpdateFinished(status loadertask.RemoteUpdateStatus, m *manifest.Manifest, rollbackAt int64, err error) {
	switch status {
	case loadertask.RemoteStatusNoUpdateAvailable:
		c.engine.machine.Post(statemachine.Event{Kind: statemachine.CheckCompleteUnavailable})
	case loadertask.RemoteStatusUpdateAvailable:
		c.engine.machine.Post(statemachine.Event{Kind: statemachine.DownloadCompleteWithUpdate, Manifest: manifestJSON(m)})
		c.engine.notifyRemoteLoadStatus(recovery.RemoteLoadNewUpdateLoaded)
	case loadertask.RemoteStatusRollBackToEmbedded:
		c.engine.machine.Post(statemachine.Event{Kind: statemachine.CheckCompleteWithRollback, RollbackCommit: rollbackAt})
		c.engine.recordRollbackIfApplicable(rollbackAt, c.engine.currentLaunchableCandidate())
	case loadertask.RemoteStatusError:
		if c.downloadStarted {
			c.engine.machine.Post(statemachine.Event{Kind: statemachine.DownloadError, Message: err.Error()})
		} else {
			c.engine.machine.Post(statemachine.Event{Kind: statemachine.CheckError, Message: err.Error()})
		}
	}
}

func (c *coldStartCallback) OnSuccess(result *launcher.Launcher, isUpToDate bool) {
	c.engine.setLauncherAndSignal(result)
	c.engine.armWatchdog(result)
}

func (c *coldStartCallback) OnFailure(err error) {
	log.Warnf("engine: cold start failed with no launchable candidate: %v", err)
	fallback := launcher.Embedded(c.engine.cfg.BundleAssetName)
	c.engine.setLauncherAndSignal(fallback)
	c.engine.armWatchdog(fallback)
}

func (e *Engine) notifyRemoteLoadStatus(status recovery.RemoteLoadStatus) {
	e.mu.Lock()
	w := e.watchdog
	e.mu.Unlock()
	if w != nil {
		w.OnRemoteLoadStatusChanged(status)
	}
}

// armWatchdog replaces the ErrorRecovery watchdog for the update that was
// just launched. The watchdog itself only starts counting down once the
// host calls OnJSInstanceCreated.
func (e *Engine) armWatchdog(l *launcher.Launcher) {
	if l == nil || l.Embedded {
		return
	}
	w := recovery.New(recovery.Config{
		SuccessTimeoutMs: e.cfg.SuccessTimeoutMs,
		LaunchedUpdateID: l.UpdateID,
		ScopeKey:         e.cfg.ScopeKey,
		Policy:           e.cfg.LauncherPolicy,
	}, e.cat, e)

	e.mu.Lock()
	e.watchdog = w
	e.mu.Unlock()
}

// OnJSInstanceCreated starts the ErrorRecovery watchdog for the currently
// launched update. The host calls this once its React instance manager
// has been created.
func (e *Engine) OnJSInstanceCreated() {
	e.mu.Lock()
	w := e.watchdog
	e.mu.Unlock()
	if w != nil {
		w.Start()
	}
}

// OnJSError reports a fatal JS error to the ErrorRecovery watchdog.
func (e *Engine) OnJSError(err error) {
	e.mu.Lock()
	w := e.watchdog
	e.mu.Unlock()
	if w != nil {
		w.OnJSError(err)
	}
}

// Relaunch implements recovery.Actions: swap to candidate and ask the
// host to restart.
func (e *Engine) Relaunch(candidate catalog.UpdateEntity) {
	if candidate.Status == catalog.StatusEmbedded {
		e.RelaunchEmbedded()
		return
	}

	built, err := launcher.Build(e.cat, e.store, candidate)
	if err != nil {
		log.Warnf("engine: failed to build relaunch candidate %s: %v", candidate.ID, err)
		e.RelaunchEmbedded()
		return
	}
	e.setLauncherAndSignal(built)
	e.armWatchdog(built)
	e.restartHost(built)
}

// RelaunchEmbedded implements recovery.Actions: fall back to the bundled
// payload and restart.
func (e *Engine) RelaunchEmbedded() {
	fallback := launcher.Embedded(e.cfg.BundleAssetName)
	e.setLauncherAndSignal(fallback)
	e.mu.Lock()
	e.watchdog = nil
	e.mu.Unlock()
	e.restartHost(fallback)
}

// ThrowException implements recovery.Actions: no fallback exists, so the
// failure is unrecoverable and must surface to the host process.
func (e *Engine) ThrowException(err error) {
	log.Errorf("engine: unrecoverable launch failure: %v", err)
	panic(err)
}

func (e *Engine) restartHost(l *launcher.Launcher) {
	path := ""
	if !l.Embedded {
		path = l.LaunchAssetPath
	}
	if err := e.cfg.Reloader.SetJSBundleFile(path); err != nil {
		log.Warnf("engine: host reload failed to accept bundle path, deferring to next natural reload: %v", err)
	}
	e.cfg.Reloader.Restart()
}

func entityCandidatesToSelection(rows []catalog.UpdateEntity) []selection.Candidate {
	out := make([]selection.Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, selection.Candidate{
			ID:                    r.ID,
			CommitTime:            r.CommitTime,
			RuntimeVersion:        r.RuntimeVersion,
			FailedLaunchCount:     r.FailedLaunchCount,
			SuccessfulLaunchCount: r.SuccessfulLaunchCount,
			Embedded:              r.Status == catalog.StatusEmbedded,
			ManifestFilters:       r.ManifestFilters(),
		})
	}
	return out
}

func manifestJSON(m *manifest.Manifest) string {
	if m == nil {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}
