package engine

import (
	"github.com/tomekzaw/expo/internal/hostbridge"
	"github.com/tomekzaw/expo/internal/otaerrors"
	"github.com/tomekzaw/expo/internal/selection"
)

// CheckOnLaunch controls whether the Engine kicks off a LoaderTask on
// start.
type CheckOnLaunch string

const (
	CheckAlways            CheckOnLaunch = "Always"
	CheckErrorRecoveryOnly CheckOnLaunch = "ErrorRecoveryOnly"
	CheckNever             CheckOnLaunch = "Never"
	CheckWifiOnly          CheckOnLaunch = "WifiOnly"
)

// Config is the engine's process-wide configuration, passed by reference
// at construction rather than read from ambient global state. IsEnabled is
// a pointer so a zero-value Config defaults to enabled rather than
// silently forcing embedded-only launch; leave it nil to take the default.
type Config struct {
	UpdatesDir         string
	IsEnabled          *bool
	UpdateURL          string
	ScopeKey           string
	RuntimeVersion     string
	LaunchWaitMs       int
	CheckOnLaunch      CheckOnLaunch
	RequestHeaders     map[string]string
	HasEmbeddedUpdate  bool
	BundleAssetName    string
	EmbeddedCommitTime int64
	SuccessTimeoutMs   int64

	LauncherPolicy selection.LauncherSelectionPolicy
	LoaderPolicy   selection.LoaderSelectionPolicy
	ReaperPolicy   selection.ReaperSelectionPolicy
	Filters        selection.Filters

	Reloader    hostbridge.Reloader
	StateChange hostbridge.StateChangeSender
	LegacyEvent hostbridge.LegacyEventSender
}

func (c Config) withDefaults() Config {
	if c.IsEnabled == nil {
		c.IsEnabled = boolPtr(true)
	}
	if c.CheckOnLaunch == "" {
		c.CheckOnLaunch = CheckAlways
	}
	if c.SuccessTimeoutMs <= 0 {
		c.SuccessTimeoutMs = 10_000
	}
	if c.LauncherPolicy == nil {
		c.LauncherPolicy = selection.DefaultLauncherSelectionPolicy{RuntimeVersion: c.RuntimeVersion}
	}
	if c.LoaderPolicy == nil {
		c.LoaderPolicy = selection.DefaultLoaderSelectionPolicy{}
	}
	if c.ReaperPolicy == nil {
		c.ReaperPolicy = selection.DefaultReaperSelectionPolicy{}
	}
	if c.Reloader == nil {
		c.Reloader = hostbridge.NopReloader{}
	}
	return c
}

func boolPtr(b bool) *bool { return &b }

// validate implements the ConfigInvalid path: fatal during start, thrown
// to the caller rather than recovered.
func (c Config) validate() error {
	if c.UpdatesDir == "" {
		return otaerrors.Errorf(otaerrors.ConfigInvalid, "updatesDir is required")
	}
	if c.IsEnabled != nil && *c.IsEnabled && (c.UpdateURL == "" || c.ScopeKey == "") {
		return otaerrors.Errorf(otaerrors.ConfigInvalid, "updateUrl and scopeKey are required when isEnabled is true")
	}
	if c.RuntimeVersion == "" {
		return otaerrors.Errorf(otaerrors.ConfigInvalid, "runtimeVersion is required")
	}
	return nil
}
