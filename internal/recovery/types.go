// Package recovery implements the post-launch watchdog: once the host
// signals that the JS instance has been created, it gives the launched
// update successTimeoutMs to either report a fatal error or stay silent,
// and demotes or relaunches accordingly.
package recovery

import (
	"github.com/tomekzaw/expo/internal/catalog"
	"github.com/tomekzaw/expo/internal/selection"
)

// RemoteLoadStatus tracks whether a background Loader/LoaderTask run is in
// flight, so the watchdog can hold off its success/fail decision rather
// than race a replacement update that is already on the way.
type RemoteLoadStatus int

const (
	RemoteLoadIdle RemoteLoadStatus = iota
	RemoteLoadNewUpdateLoading
	RemoteLoadNewUpdateLoaded
)

func (s RemoteLoadStatus) String() string {
	switch s {
	case RemoteLoadIdle:
		return "idle"
	case RemoteLoadNewUpdateLoading:
		return "newUpdateLoading"
	case RemoteLoadNewUpdateLoaded:
		return "newUpdateLoaded"
	default:
		return "unknown"
	}
}

// Config configures a Watchdog for one launched update.
type Config struct {
	SuccessTimeoutMs int64
	LaunchedUpdateID string
	ScopeKey         string
	Policy           selection.LauncherSelectionPolicy
}

func (c Config) successTimeoutMs() int64 {
	if c.SuccessTimeoutMs <= 0 {
		return 10_000
	}
	return c.SuccessTimeoutMs
}

// Actions is the narrow capability interface the watchdog calls back into
// the Engine through, rather than holding the whole façade, to break the
// Engine/StateMachine/ErrorRecovery reference cycle.
type Actions interface {
	// Relaunch swaps the running launcher for candidate and restarts.
	Relaunch(candidate catalog.UpdateEntity)
	// RelaunchEmbedded swaps to the embedded-bundle launcher and restarts.
	RelaunchEmbedded()
	// ThrowException surfaces a fatal, unrecoverable error to the host.
	ThrowException(err error)
}
