package saga

import "sync"

// Instance is a spawned process-manager instance. It consumes one event at a
// time and confirms each by calling the Acker exactly once on success.
type Instance interface {
	// ProcessEvent hands the event to the instance. Fire-and-forget: the
	// call must not block on the instance's work; confirmation arrives
	// asynchronously via ack.AckEvent(event.ID).
	ProcessEvent(event RecordedEvent, ack Acker)
	// State returns a snapshot of the instance's current state.
	State() (any, error)
}

// Supervisor spawns and owns process-manager instances.
//
// The router monitors the returned handle for termination but treats it as
// opaque otherwise; restart policy, if any, belongs to the supervisor.
type Supervisor interface {
	StartInstance(name string, policy Policy, identity string) (*Handle, error)
}

// Handle references a spawned process-manager instance. It carries no
// ownership semantics: the supervisor owns the instance lifecycle, the
// router only observes it.
//
// Termination follows the context idiom: Done is closed when the instance
// stops, after which Err reports the reason.
type Handle struct {
	id   string
	inst Instance
	done chan struct{}

	mu         sync.Mutex
	terminated bool
	err        error
}

// NewHandle wraps an instance in a handle with the given id.
// Intended for Supervisor implementations.
func NewHandle(id string, inst Instance) *Handle {
	return &Handle{
		id:   id,
		inst: inst,
		done: make(chan struct{}),
	}
}

// ID returns the handle's unique-per-spawn identifier.
func (h *Handle) ID() string { return h.id }

// Instance returns the wrapped instance.
func (h *Handle) Instance() Instance { return h.inst }

// Done returns a channel that is closed when the instance terminates.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the termination reason after Done is closed, nil before.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Terminate marks the handle's instance as terminated with the given
// reason and closes Done. Idempotent; only the first reason is kept.
// Intended for Supervisor implementations.
func (h *Handle) Terminate(reason error) {
	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		return
	}
	h.terminated = true
	h.err = reason
	h.mu.Unlock()
	close(h.done)
}
