package recorder

// EventType identifies recorder lifecycle events
type EventType int

const (
	EventStarted EventType = iota
	EventChunk
	EventStopped
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventChunk:
		return "chunk"
	case EventStopped:
		return "stopped"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered on the recorder's event channel.
// Chunk is set for EventChunk, Err for EventError.
type Event struct {
	Type  EventType
	Chunk *Chunk
	Err   error
}
