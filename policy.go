package saga

// DecisionKind distinguishes routing decisions.
type DecisionKind int

const (
	// KindSkip means the event is irrelevant to this process-manager type.
	KindSkip DecisionKind = iota
	// KindStart means a fresh instance must be spawned for the identity.
	KindStart
	// KindContinue means an existing instance for the identity should
	// consume the event, spawning one if none is registered.
	KindContinue
)

// String implements fmt.Stringer.
func (k DecisionKind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindContinue:
		return "continue"
	default:
		return "skip"
	}
}

// Decision is the outcome of a Policy consultation.
// Identity is empty for Skip decisions.
type Decision struct {
	Kind     DecisionKind
	Identity string
}

// Start decides that a fresh instance must be spawned for identity.
// Any existing registry entry for the identity is replaced.
func Start(identity string) Decision {
	return Decision{Kind: KindStart, Identity: identity}
}

// Continue decides that the existing instance for identity should consume
// the event. If no instance is registered, the router behaves as for Start.
func Continue(identity string) Decision {
	return Decision{Kind: KindContinue, Identity: identity}
}

// Skip decides that the event is irrelevant. The router acknowledges it and
// advances the watermark without touching any instance.
func Skip() Decision {
	return Decision{Kind: KindSkip}
}

// Policy maps an event payload to a routing decision.
//
// Implementations must be deterministic and side-effect-free from the
// router's perspective: the router may consult the policy at most once per
// event, and never for events at or below its dedup watermark.
type Policy interface {
	Interested(payload []byte) Decision
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(payload []byte) Decision

// Interested implements Policy.
func (f PolicyFunc) Interested(payload []byte) Decision {
	return f(payload)
}
