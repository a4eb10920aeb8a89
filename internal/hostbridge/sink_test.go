package hostbridge

import (
	"strings"
	"testing"

	"github.com/tomekzaw/expo/internal/statemachine"
)

type recordingStateChangeSender struct {
	eventType   string
	contextJSON string
}

func (r *recordingStateChangeSender) SendUpdatesStateChangeEvent(eventType, contextJSON string) {
	r.eventType = eventType
	r.contextJSON = contextJSON
}

type recordingLegacySender struct {
	eventType string
	params    map[string]interface{}
}

func (r *recordingLegacySender) SendUpdatesEvent(eventType string, params map[string]interface{}) {
	r.eventType = eventType
	r.params = params
}

func TestSinkForwardsToBothSenders(t *testing.T) {
	stateChange := &recordingStateChangeSender{}
	legacy := &recordingLegacySender{}
	sink := Sink{StateChange: stateChange, Legacy: legacy}

	ctx := statemachine.Context{State: statemachine.Idle, IsUpdateAvailable: true, LatestManifest: "m1"}
	sink.SendUpdatesStateChangeEvent(statemachine.CheckCompleteWithUpdate, ctx)

	if stateChange.eventType != string(statemachine.CheckCompleteWithUpdate) {
		t.Fatalf("unexpected event type: %s", stateChange.eventType)
	}
	if !strings.Contains(stateChange.contextJSON, `"latestManifest"`) && !strings.Contains(stateChange.contextJSON, "LatestManifest") {
		t.Fatalf("expected context JSON to carry the manifest field, got %s", stateChange.contextJSON)
	}

	if legacy.params["isUpdateAvailable"] != true {
		t.Fatalf("expected legacy sender to carry isUpdateAvailable=true, got %v", legacy.params)
	}
}

func TestSinkToleratesNilSenders(t *testing.T) {
	sink := Sink{}
	sink.SendUpdatesStateChangeEvent(statemachine.Check, statemachine.Context{})
}
