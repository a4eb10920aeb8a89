package recovery

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tomekzaw/expo/internal/catalog"
	"github.com/tomekzaw/expo/internal/otaerrors"
	"github.com/tomekzaw/expo/internal/selection"
)

// Watchdog is a single-use guard over one launched update: it is armed by
// Start, resolves exactly once via a fatal JS error, the success timer
// elapsing, or the host tearing down, and is then discarded. The Engine
// creates a fresh Watchdog for every launch.
type Watchdog struct {
	cfg     Config
	cat     *catalog.Catalog
	actions Actions

	mu           sync.Mutex
	remoteStatus RemoteLoadStatus
	timerFired   bool
	fatalErr     error
	resolved     bool
	timer        *time.Timer
}

// New builds a Watchdog. It does nothing until Start is called.
func New(cfg Config, cat *catalog.Catalog, actions Actions) *Watchdog {
	return &Watchdog{cfg: cfg, cat: cat, actions: actions}
}

// Start begins the successTimeoutMs countdown. Invoked once the host
// signals onDidCreateReactInstanceManager.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		return
	}
	w.timer = time.AfterFunc(time.Duration(w.cfg.successTimeoutMs())*time.Millisecond, w.onTimerFired)
}

// Stop cancels the pending timer without resolving, for host teardown
// before the watchdog ever fires.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.resolved = true
}

func (w *Watchdog) onTimerFired() {
	w.mu.Lock()
	w.timerFired = true
	w.tryResolveLocked()
	w.mu.Unlock()
}

// OnJSError reports a fatal JS error observed within the success window.
func (w *Watchdog) OnJSError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resolved {
		return
	}
	if w.fatalErr == nil {
		w.fatalErr = err
	}
	w.tryResolveLocked()
}

// OnRemoteLoadStatusChanged updates the in-flight-load gate. A decision
// that was waiting on a remote load is re-evaluated immediately.
func (w *Watchdog) OnRemoteLoadStatusChanged(status RemoteLoadStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.remoteStatus = status
	w.tryResolveLocked()
}

// tryResolveLocked applies the watchdog's decision rule. Must hold w.mu.
func (w *Watchdog) tryResolveLocked() {
	if w.resolved {
		return
	}
	if w.remoteStatus == RemoteLoadNewUpdateLoading {
		// A replacement update is already on the way; hold off.
		return
	}
	switch {
	case w.fatalErr != nil:
		w.resolved = true
		go w.demote(w.fatalErr)
	case w.timerFired:
		w.resolved = true
		go w.confirmSuccess()
	}
}

func (w *Watchdog) confirmSuccess() {
	if err := w.cat.MarkSuccessfulLaunch(w.cfg.LaunchedUpdateID); err != nil {
		log.Warnf("recovery: mark successful launch %s: %v", w.cfg.LaunchedUpdateID, err)
	}
}

// demote implements the failure path: mark the launch failed, then fall
// back to another launchable update, or the embedded bundle, or surface
// the error as unrecoverable.
func (w *Watchdog) demote(cause error) {
	if err := w.cat.MarkFailedLaunch(w.cfg.LaunchedUpdateID); err != nil {
		log.Warnf("recovery: mark failed launch %s: %v", w.cfg.LaunchedUpdateID, err)
	}

	rows, err := w.cat.LaunchableCandidates(w.cfg.ScopeKey)
	if err != nil {
		log.Warnf("recovery: list launchable candidates: %v", err)
		w.actions.ThrowException(otaerrors.Wrap(otaerrors.LaunchFailure, cause, "launch failed and recovery lookup failed"))
		return
	}

	candidates := entityCandidates(rows)
	policy := w.cfg.Policy
	if policy == nil {
		policy = selection.DefaultLauncherSelectionPolicy{RuntimeVersion: ""}
	}

	var others []selection.Candidate
	for _, c := range candidates {
		if c.ID != w.cfg.LaunchedUpdateID {
			others = append(others, c)
		}
	}

	if best := policy.ChooseLauncherUpdate(others, selection.Filters{}); best != nil {
		log.Warnf("recovery: relaunching %s after %s failed within success window", best.ID, w.cfg.LaunchedUpdateID)
		if best.Embedded {
			w.actions.RelaunchEmbedded()
			return
		}
		w.actions.Relaunch(catalog.UpdateEntity{ID: best.ID})
		return
	}

	var embedded *selection.Candidate
	for i := range candidates {
		if candidates[i].Embedded {
			embedded = &candidates[i]
			break
		}
	}
	if embedded != nil {
		log.Warnf("recovery: no other launchable update, rolling back to embedded bundle")
		w.actions.RelaunchEmbedded()
		return
	}

	w.actions.ThrowException(otaerrors.Wrap(otaerrors.LaunchFailure, cause, "update launch failed and no fallback is available"))
}

func entityCandidates(rows []catalog.UpdateEntity) []selection.Candidate {
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
