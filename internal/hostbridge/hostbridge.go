// Package hostbridge defines the narrow, abstract interfaces the Engine
// uses to talk to whatever process embeds it (a React Native host, the
// cmd/updatesd demo, or a test double). None of these types know
// anything about the update domain; they are the seam between the two.
package hostbridge

// Reloader is the engine's only way to swap the running JS bundle and
// restart it, modeled as an abstract negotiated API rather than a
// reflection trick against a private host field. A failed SetJSBundleFile
// is non-fatal; the bundle path takes effect on the next natural reload.
type Reloader interface {
	SetJSBundleFile(path string) error
	Restart()
}

// StateChangeSender emits the UpdatesStateChange host event: an event
// name paired with the full StateMachine context, JSON-encoded by the
// caller per the host's wire format.
type StateChangeSender interface {
	SendUpdatesStateChangeEvent(eventType string, contextJSON string)
}

// LegacyEventSender emits the older UpdatesEvent shape some hosts still
// listen for: an event type plus a flatter params map.
type LegacyEventSender interface {
	SendUpdatesEvent(eventType string, params map[string]interface{})
}

// NopReloader discards every call. Useful for the demo binary and for
// tests that only care about Engine/Catalog/Loader interaction.
type NopReloader struct{}

func (NopReloader) SetJSBundleFile(string) error { return nil }
func (NopReloader) Restart()                     {}

// NopSender discards every event.
type NopSender struct{}

func (NopSender) SendUpdatesStateChangeEvent(string, string)          {}
func (NopSender) SendUpdatesEvent(string, map[string]interface{}) {}
