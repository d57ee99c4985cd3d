package rtdb

// EventType identifies the kind of server-sent event received on a stream.
type EventType string

const (
	// EventTypeKeepAlive is a periodic no-op event indicating the stream is alive.
	EventTypeKeepAlive EventType = "keep-alive"
	// EventTypePut notifies that data at the watched location changed.
	EventTypePut EventType = "put"
)

// Event is a single notification received on an open stream. Put events carry
// the changed data as a JSON object; keep-alive events carry no payload.
type Event struct {
	Type EventType
	Put  map[string]any
}

func NewKeepAliveEvent() Event {
	return Event{Type: EventTypeKeepAlive}
}

func NewPutEvent(data map[string]any) Event {
	return Event{Type: EventTypePut, Put: data}
}

// FunctionCallResult holds the raw response body from a function invocation.
type FunctionCallResult struct {
	body []byte
}

func NewFunctionCallResult(body []byte) *FunctionCallResult {
	return &FunctionCallResult{body: body}
}

func (r FunctionCallResult) Body() []byte {
	return r.body
}
