package cmd

import (
	"fmt"

	"github.com/tomekzaw/expo/internal/engine"
	"github.com/tomekzaw/expo/internal/hostbridge"
)

// consoleSender prints every StateMachine transition to stdout, standing
// in for the host bridge a React Native app would otherwise implement.
type consoleSender struct{}

func (consoleSender) SendUpdatesStateChangeEvent(eventType string, contextJSON string) {
	fmt.Printf("[state] %s %s\n", eventType, contextJSON)
}

func (consoleSender) SendUpdatesEvent(eventType string, params map[string]interface{}) {
	fmt.Printf("[event] %s %v\n", eventType, params)
}

// consoleReloader logs the bundle swap/restart a real host would perform.
type consoleReloader struct{}

func (consoleReloader) SetJSBundleFile(path string) error {
	fmt.Printf("[reloader] set JS bundle file: %s\n", path)
	return nil
}

func (consoleReloader) Restart() {
	fmt.Println("[reloader] restart requested")
}

func newEngine() (*engine.Engine, error) {
	sender := consoleSender{}
	enabled := updateURL != ""
	return engine.New(engine.Config{
		UpdatesDir:      updatesDir,
		IsEnabled:       &enabled,
		UpdateURL:       updateURL,
		ScopeKey:        scopeKey,
		RuntimeVersion:  runtimeVersion,
		CheckOnLaunch:   engine.CheckAlways,
		BundleAssetName: bundleAssetName,
		Reloader:        consoleReloader{},
		StateChange:     sender,
		LegacyEvent:     sender,
	})
}

var _ hostbridge.Reloader = consoleReloader{}
