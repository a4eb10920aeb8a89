package statemachine

import "time"

// transitions is the fixed table: for a given (State, eventClass) pair it
// names the resulting State, or omits the pair entirely to mean "reject
// with a warning, state unchanged".
var transitions = map[State]map[eventClass]State{
	Idle: {
		classCheck:    Checking,
		classDownload: Downloading,
		classRestart:  Restarting,
	},
	Checking: {
		classCheckComplete: Idle,
		classDownload:      Downloading,
		classRestart:       Restarting,
	},
	Downloading: {
		classDownloadComplete: Idle,
		classRestart:          Restarting,
	},
	Restarting: {
		classRestart: Restarting,
	},
}

// next looks up the transition table. The second return value is false
// for a rejected event, in which case the caller must leave state and
// context untouched and merely log the rejection.
func next(from State, kind EventKind) (State, bool) {
	class := classify(kind)
	if class == -1 {
		return from, false
	}
	byClass, ok := transitions[from]
	if !ok {
		return from, false
	}
	to, ok := byClass[class]
	return to, ok
}

// apply folds an accepted event into the previous context, producing the
// next context. Only called once next has confirmed the transition is
// legal; it never itself rejects.
func apply(prev Context, to State, event Event) Context {
	next := prev
	next.State = to

	switch event.Kind {
	case Check:
		next.LastCheckForUpdateTime = time.Now().UnixMilli()
	case CheckCompleteUnavailable:
		next.IsUpdateAvailable = false
		next.LatestManifest = ""
		next.CheckError = ""
	case CheckCompleteWithUpdate:
		next.IsUpdateAvailable = true
		next.LatestManifest = event.Manifest
		next.CheckError = ""
	case CheckCompleteWithRollback:
		next.IsUpdateAvailable = false
		next.LatestManifest = ""
		next.CheckError = ""
		next.Rollback = &Rollback{CommitTime: event.RollbackCommit}
	case CheckError:
		next.CheckError = event.Message
	case Download:
		// entering Downloading carries no context change beyond the state.
	case DownloadComplete:
		next.IsUpdatePending = false
		next.DownloadedManifest = ""
		next.DownloadError = ""
	case DownloadCompleteWithUpdate:
		next.IsUpdatePending = true
		next.DownloadedManifest = event.Manifest
		next.DownloadError = ""
	case DownloadCompleteWithRollback:
		next.IsUpdatePending = true
		next.DownloadedManifest = ""
		next.DownloadError = ""
		next.Rollback = &Rollback{CommitTime: event.RollbackCommit}
	case DownloadError:
		next.DownloadError = event.Message
	case Restart:
		// entering Restarting carries no context change beyond the state.
	}

	next.SequenceNumber = prev.SequenceNumber + 1
	return next
}
