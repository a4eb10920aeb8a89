package hostbridge

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/tomekzaw/expo/internal/statemachine"
)

// Sink adapts a statemachine.Machine's snapshots to the two host event
// shapes: the modern JSON-context UpdatesStateChange and the legacy
// flattened UpdatesEvent, so callers only have to wire a Reloader and one
// of these senders to get a fully working host bridge.
type Sink struct {
	StateChange StateChangeSender
	Legacy      LegacyEventSender
}

func (s Sink) SendUpdatesStateChangeEvent(kind statemachine.EventKind, ctx statemachine.Context) {
	if s.StateChange != nil {
		data, err := json.Marshal(ctx)
		if err != nil {
			log.Warnf("hostbridge: encode context for %s: %v", kind, err)
		} else {
			s.StateChange.SendUpdatesStateChangeEvent(string(kind), string(data))
		}
	}

	if s.Legacy != nil {
		s.Legacy.SendUpdatesEvent(string(kind), map[string]interface{}{
			"isUpdateAvailable": ctx.IsUpdateAvailable,
			"isUpdatePending":   ctx.IsUpdatePending,
			"latestManifest":    ctx.LatestManifest,
		})
	}
}
