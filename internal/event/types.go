package event

import "time"

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

const (
	ScriptAdded       = "script.added"
	ScriptLoaded      = "script.loaded"
	ScriptLoadFailed  = "script.load_failed"
	ScriptInvalidated = "script.invalidated"
	ScriptRenamed     = "script.renamed"
	ScriptRemoved     = "script.removed"
	ScriptWatched     = "script.watched"
	ScriptUnwatched   = "script.unwatched"
	RegistryCleared   = "registry.cleared"
)

// ScriptEvent captures script registry lifecycle changes.
type ScriptEvent struct {
	EventType  string
	Path       string
	NewPath    string
	Error      string
	OccurredAt time.Time
}

func NewScriptEvent(eventType, path string) ScriptEvent {
	return ScriptEvent{
		EventType:  eventType,
		Path:       path,
		OccurredAt: time.Now().UTC(),
	}
}

func (e ScriptEvent) Type() string {
	return e.EventType
}

func (e ScriptEvent) Timestamp() time.Time {
	return e.OccurredAt
}
