package saga

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// ProcessFunc applies one recorded event to a process-manager instance.
// Returning an error terminates the instance (crash semantics): the event
// stays un-acknowledged and the router observes the termination.
type ProcessFunc func(ctx context.Context, event RecordedEvent) error

// StateFunc returns a snapshot of an instance's current state.
type StateFunc func() (any, error)

// Factory creates the process function for a freshly spawned instance.
type Factory func(identity string) (ProcessFunc, error)

// RecoveryError wraps a panic raised by a process function with the stack
// trace captured at the point of panic.
type RecoveryError struct {
	PanicValue any
	StackTrace string
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.PanicValue)
}

// LocalConfig configures a LocalSupervisor.
type LocalConfig struct {
	// Factory creates process functions for spawned instances. Required.
	Factory Factory

	// StateFactory optionally supplies a per-identity state accessor,
	// surfaced through Router.InstanceState. When nil, instances report
	// a Snapshot of the last processed event.
	StateFactory func(identity string) StateFunc

	// Logger for supervisor diagnostics. Default: slog-backed logger.
	Logger Logger

	// BufferSize is the per-instance event buffer. Default: 16.
	BufferSize int
}

func (c *LocalConfig) defaults() LocalConfig {
	cfg := *c
	if cfg.Logger == nil {
		cfg.Logger = NewSlogLogger(nil)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	return cfg
}

// Snapshot is the state snapshot of a locally supervised instance.
type Snapshot struct {
	Identity    string
	LastEventID uint64
}

// LocalSupervisor runs process-manager instances as in-process goroutines.
//
// Each spawned instance is one worker goroutine consuming events from a
// buffered channel. A process function that returns an error or panics
// terminates its handle with that reason; the event in flight is never
// acknowledged. Panics are converted to RecoveryError so a misbehaving
// instance cannot take the program down.
type LocalSupervisor struct {
	cfg    LocalConfig
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	handles map[string]*Handle
}

// NewLocalSupervisor creates a supervisor for in-process instances.
// Panics if config.Factory is nil.
func NewLocalSupervisor(config LocalConfig) *LocalSupervisor {
	if config.Factory == nil {
		panic("saga: factory cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalSupervisor{
		cfg:     config.defaults(),
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[string]*Handle),
	}
}

// StartInstance implements Supervisor. Every call spawns a fresh instance
// with a unique handle id.
func (s *LocalSupervisor) StartInstance(name string, _ Policy, identity string) (*Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSupervisorClosed
	}
	s.mu.Unlock()

	fn, err := s.cfg.Factory(identity)
	if err != nil {
		return nil, fmt.Errorf("saga: start instance %q: %w", identity, err)
	}

	inst := &localInstance{
		identity: identity,
		fn:       fn,
		events:   make(chan localDelivery, s.cfg.BufferSize),
	}
	if s.cfg.StateFactory != nil {
		inst.stateFn = s.cfg.StateFactory(identity)
	}
	h := NewHandle(uuid.NewString(), inst)
	inst.handle = h

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.Terminate(ErrSupervisorClosed)
		return nil, ErrSupervisorClosed
	}
	s.handles[h.ID()] = h
	s.mu.Unlock()

	s.cfg.Logger.Debug("Started process manager instance",
		"router", name, "identity", identity, "handle", h.ID())

	go inst.run(s.ctx)
	go s.reap(h)

	return h, nil
}

// Close terminates every live instance with ErrSupervisorClosed.
func (s *LocalSupervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	s.cancel()
	for _, h := range handles {
		h.Terminate(ErrSupervisorClosed)
	}
	return nil
}

// reap drops the handle from the live set once it terminates.
func (s *LocalSupervisor) reap(h *Handle) {
	<-h.Done()
	s.mu.Lock()
	delete(s.handles, h.ID())
	s.mu.Unlock()
}

type localDelivery struct {
	event RecordedEvent
	ack   Acker
}

// localInstance is one in-process process-manager instance: a single worker
// goroutine consuming deliveries one at a time.
type localInstance struct {
	identity string
	fn       ProcessFunc
	stateFn  StateFunc
	handle   *Handle
	events   chan localDelivery

	mu     sync.Mutex
	lastID uint64
}

// ProcessEvent implements Instance. Fire-and-forget: the event is handed to
// the worker goroutine; confirmation arrives via ack once processed.
func (i *localInstance) ProcessEvent(event RecordedEvent, ack Acker) {
	select {
	case i.events <- localDelivery{event: event, ack: ack}:
	case <-i.handle.Done():
		// Instance already terminated; the event stays un-acknowledged.
	}
}

// State implements Instance. A configured state accessor takes precedence
// over the default last-event snapshot.
func (i *localInstance) State() (any, error) {
	if i.stateFn != nil {
		return i.stateFn()
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return Snapshot{Identity: i.identity, LastEventID: i.lastID}, nil
}

func (i *localInstance) run(ctx context.Context) {
	for {
		select {
		case <-i.handle.Done():
			return
		case <-ctx.Done():
			i.handle.Terminate(ErrSupervisorClosed)
			return
		case d := <-i.events:
			if err := i.process(ctx, d.event); err != nil {
				i.handle.Terminate(err)
				return
			}
			i.mu.Lock()
			i.lastID = d.event.ID
			i.mu.Unlock()
			d.ack.AckEvent(d.event.ID)
		}
	}
}

// process runs the process function with panic containment.
func (i *localInstance) process(ctx context.Context, event RecordedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RecoveryError{
				PanicValue: r,
				StackTrace: string(debug.Stack()),
			}
		}
	}()
	return i.fn(ctx, event)
}
