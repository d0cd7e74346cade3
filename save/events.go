package save

import "github.com/tailored-agentic-units/persistence/observability"

// Save event types, one per state transition of a save call.
const (
	EventDispatched observability.EventType = "save.dispatched"
	EventSkipped    observability.EventType = "save.skipped"
	EventCommitted  observability.EventType = "save.committed"
	EventFailed     observability.EventType = "save.failed"
)
