package saga

// Properties is a map of event metadata.
type Properties map[string]any

// RecordedEvent is one globally-ordered unit of stream input.
//
// ID is drawn from a single strictly increasing namespace shared by every
// event on the stream, not a per-instance sequence. The router orders,
// deduplicates, and acknowledges by ID; it never inspects Payload itself.
type RecordedEvent struct {
	ID         uint64
	Payload    []byte
	Properties Properties
}

// NewRecordedEvent creates an event with the given id and payload.
// Pass nil for props if no properties are needed.
func NewRecordedEvent(id uint64, payload []byte, props Properties) RecordedEvent {
	if props == nil {
		props = make(Properties)
	}
	return RecordedEvent{ID: id, Payload: payload, Properties: props}
}
