package saga

import (
	"context"
	"fmt"
	"sync"
)

// RouterConfig configures a process router.
type RouterConfig struct {
	// Name identifies the process-manager type. Used as the stream consumer
	// name, so the durable checkpoint is scoped per router. Required.
	Name string

	// Policy decides, per event, whether and where to route. Required.
	Policy Policy

	// Supervisor spawns process-manager instances on demand. Required.
	Supervisor Supervisor

	// Stream is the ordered event source to subscribe to. Required.
	Stream Stream

	// Dispatcher is an opaque reference passed through to instance
	// factories via Dispatcher(). The router never uses it itself.
	Dispatcher any

	// Logger for router diagnostics. Default: slog-backed logger.
	Logger Logger

	// MailboxSize is the router mailbox buffer size. Default: 64.
	MailboxSize int
}

func (c *RouterConfig) defaults() RouterConfig {
	cfg := *c
	if cfg.Logger == nil {
		cfg.Logger = NewSlogLogger(nil)
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}
	return cfg
}

// routerMsg is the sealed tagged union flowing through the router mailbox.
type routerMsg interface{ routerMsg() }

type subscribeMsg struct{}

type batchMsg struct {
	events []RecordedEvent
	sub    Subscription
}

type ackMsg struct{ id uint64 }

type stateQuery struct {
	identity string
	reply    chan stateReply
}

type stateReply struct {
	state any
	err   error
}

type downMsg struct {
	handle *Handle
	reason error
}

func (subscribeMsg) routerMsg() {}
func (batchMsg) routerMsg()     {}
func (ackMsg) routerMsg()       {}
func (stateQuery) routerMsg()   {}
func (downMsg) routerMsg()      {}

// inflight tracks the single event currently delegated to an instance.
type inflight struct {
	event  RecordedEvent
	handle *Handle
}

// Router routes recorded events to process-manager instances.
//
// The router is a single-goroutine actor: every external entry point posts a
// message to one mailbox, and the run loop processes messages one at a time.
// Ordering, dedup, and single-flight delivery all follow from that.
//
// Events are delivered strictly in stream order across all identities, one
// at a time router-wide. An event is acknowledged upstream only after its
// instance confirms it via AckEvent, or immediately when the policy is not
// interested or the event is a duplicate redelivery.
type Router struct {
	name       string
	policy     Policy
	supervisor Supervisor
	stream     Stream
	dispatcher any
	logger     Logger

	mailbox chan routerMsg
	done    chan struct{}

	mu      sync.Mutex
	started bool

	// State below is owned by the run goroutine. No locks.
	ctx          context.Context
	sub          Subscription
	watermark    uint64
	hasWatermark bool
	pending      *eventQueue
	instances    map[string]*Handle
	inFlight     *inflight
}

// NewRouter creates a router. Start must be called to begin routing.
func NewRouter(config RouterConfig) (*Router, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("saga: router name is required")
	}
	if config.Policy == nil {
		return nil, fmt.Errorf("saga: router policy is required")
	}
	if config.Supervisor == nil {
		return nil, fmt.Errorf("saga: router supervisor is required")
	}
	if config.Stream == nil {
		return nil, fmt.Errorf("saga: router stream is required")
	}
	cfg := config.defaults()

	return &Router{
		name:       cfg.Name,
		policy:     cfg.Policy,
		supervisor: cfg.Supervisor,
		stream:     cfg.Stream,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		mailbox:    make(chan routerMsg, cfg.MailboxSize),
		done:       make(chan struct{}),
		pending:    newEventQueue(),
		instances:  make(map[string]*Handle),
	}, nil
}

// Name returns the router's process-manager type name.
func (r *Router) Name() string { return r.name }

// Dispatcher returns the opaque dispatcher reference from the config.
// Instance factories typically use it to dispatch commands.
func (r *Router) Dispatcher() any { return r.dispatcher }

// Start begins routing. It subscribes to the stream as its first
// self-scheduled action, so construction and Start never block on a stream
// round-trip. Returns a done channel that closes when the router stops.
// Can only be called once; subsequent calls return ErrAlreadyStarted.
func (r *Router) Start(ctx context.Context) (<-chan struct{}, error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	r.started = true
	r.mu.Unlock()

	// First self-scheduled action: establish the stream subscription from
	// inside the run loop. The mailbox buffer is never zero, so this cannot
	// block.
	r.mailbox <- subscribeMsg{}

	go r.run(ctx)
	return r.done, nil
}

// ReceiveBatch implements Subscriber. Events at or below the dedup watermark
// are re-acknowledged and dropped; survivors are queued in arrival order.
// The subscription becomes the router's current acknowledgment target.
func (r *Router) ReceiveBatch(events []RecordedEvent, sub Subscription) {
	r.post(batchMsg{events: events, sub: sub})
}

// AckEvent implements Acker. Instances call it exactly once per processed
// event; the router acknowledges upstream and advances the watermark.
func (r *Router) AckEvent(eventID uint64) {
	r.post(ackMsg{id: eventID})
}

// InstanceState returns a state snapshot for the instance registered under
// identity, or ErrInstanceNotFound if no instance is registered.
func (r *Router) InstanceState(ctx context.Context, identity string) (any, error) {
	reply := make(chan stateReply, 1)
	select {
	case r.mailbox <- stateQuery{identity: identity, reply: reply}:
	case <-r.done:
		return nil, ErrRouterClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.state, res.err
	case <-r.done:
		return nil, ErrRouterClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// post delivers a message to the mailbox, giving up when the router stops.
func (r *Router) post(msg routerMsg) {
	select {
	case r.mailbox <- msg:
	case <-r.done:
	}
}

func (r *Router) run(ctx context.Context) {
	defer close(r.done)
	r.ctx = ctx

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.mailbox:
			r.handle(msg)
		}
	}
}

func (r *Router) handle(msg routerMsg) {
	switch m := msg.(type) {
	case subscribeMsg:
		r.subscribe()
	case batchMsg:
		r.receiveBatch(m)
	case ackMsg:
		r.ackEvent(m.id)
	case stateQuery:
		r.queryState(m)
	case downMsg:
		r.instanceDown(m)
	}
}

func (r *Router) subscribe() {
	sub, err := r.stream.Subscribe(r.ctx, r.name, r)
	if err != nil {
		r.logger.Error("Failed to subscribe to event stream",
			"router", r.name, "error", err)
		return
	}
	r.sub = sub
	r.logger.Debug("Subscribed to event stream", "router", r.name)
}

func (r *Router) receiveBatch(m batchMsg) {
	if m.sub != nil {
		r.sub = m.sub
	}
	for _, e := range m.events {
		if r.covered(e.ID) {
			// Duplicate redelivery. The upstream re-sent it expecting a
			// fresh ack, so acknowledge again to keep its checkpoint moving.
			r.logger.Debug("Dropping duplicate event",
				"router", r.name, "event_id", e.ID, "watermark", r.watermark)
			r.ackUpstream(e.ID)
			continue
		}
		r.pending.push(e)
	}
	r.drain()
}

func (r *Router) ackEvent(id uint64) {
	if r.inFlight == nil || r.inFlight.event.ID != id {
		r.logger.Debug("Ignoring unexpected ack",
			"router", r.name, "event_id", id)
		return
	}
	r.inFlight = nil
	r.ackUpstream(id)
	r.advance(id)
	r.drain()
}

func (r *Router) queryState(q stateQuery) {
	h, ok := r.instances[q.identity]
	if !ok {
		q.reply <- stateReply{err: ErrInstanceNotFound}
		return
	}
	state, err := h.Instance().State()
	q.reply <- stateReply{state: state, err: err}
}

func (r *Router) instanceDown(m downMsg) {
	for identity, h := range r.instances {
		if h == m.handle {
			delete(r.instances, identity)
			r.logger.Warn("Process manager instance terminated",
				"router", r.name, "identity", identity,
				"handle", h.ID(), "reason", m.reason)
		}
	}
	if r.inFlight != nil && r.inFlight.handle == m.handle {
		// The in-flight event is left un-acknowledged. It is not redelivered;
		// the identity only recovers if a later event starts it afresh.
		r.logger.Warn("In-flight event lost to instance termination",
			"router", r.name, "event_id", r.inFlight.event.ID)
		r.inFlight = nil
		r.drain()
	}
}

// drain pops and dispatches pending events until the queue empties or an
// event goes in flight. Skip and duplicate outcomes keep the loop going
// without any external stimulus.
func (r *Router) drain() {
	for r.inFlight == nil {
		e, ok := r.pending.pop()
		if !ok {
			return
		}

		if r.covered(e.ID) {
			// Became a duplicate while queued. Re-ack, no policy call.
			r.ackUpstream(e.ID)
			continue
		}

		decision := r.policy.Interested(e.Payload)
		switch decision.Kind {
		case KindSkip:
			r.ackUpstream(e.ID)
			r.advance(e.ID)

		case KindStart, KindContinue:
			h := r.resolve(decision)
			if h == nil {
				// Spawn failed: the event is neither acknowledged nor
				// dropped. Leave it at the head so the drain stalls here;
				// the next stimulus re-attempts the spawn.
				r.pending.pushFront(e)
				return
			}
			r.logger.Debug("Delegating event",
				"router", r.name, "event_id", e.ID,
				"identity", decision.Identity, "decision", decision.Kind)
			h.Instance().ProcessEvent(e, r)
			r.inFlight = &inflight{event: e, handle: h}

		default:
			r.logger.Error("Unknown policy decision",
				"router", r.name, "event_id", e.ID, "decision", decision.Kind)
			r.pending.pushFront(e)
			return
		}
	}
}

// resolve returns the handle to deliver to, spawning per the decision.
// Returns nil if the supervisor failed to spawn.
func (r *Router) resolve(d Decision) *Handle {
	if d.Kind == KindContinue {
		if h, ok := r.instances[d.Identity]; ok {
			return h
		}
	}

	h, err := r.supervisor.StartInstance(r.name, r.policy, d.Identity)
	if err != nil {
		r.logger.Error("Failed to start process manager instance",
			"router", r.name, "identity", d.Identity, "error", err)
		return nil
	}

	// Last writer wins: a Start decision replaces any existing entry. The
	// replaced instance stays alive until its supervisor terminates it.
	r.instances[d.Identity] = h
	go r.watch(h)
	return h
}

// watch forwards the handle's termination into the mailbox.
func (r *Router) watch(h *Handle) {
	select {
	case <-h.Done():
		r.post(downMsg{handle: h, reason: h.Err()})
	case <-r.done:
	}
}

func (r *Router) covered(id uint64) bool {
	return r.hasWatermark && id <= r.watermark
}

// advance moves the watermark forward, never backward.
func (r *Router) advance(id uint64) {
	if !r.hasWatermark || id > r.watermark {
		r.watermark = id
		r.hasWatermark = true
	}
}

func (r *Router) ackUpstream(id uint64) {
	if r.sub == nil {
		r.logger.Warn("No subscription to acknowledge against",
			"router", r.name, "event_id", id)
		return
	}
	if err := r.sub.Ack(r.ctx, id); err != nil {
		r.logger.Error("Failed to acknowledge event",
			"router", r.name, "event_id", id, "error", err)
	}
}
