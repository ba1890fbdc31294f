// Package cloudevents bridges CloudEvents payloads to saga routing. Recorded
// event payloads carry CloudEvents in the JSON event format; the policy
// adapter here decodes them and decides on context attributes, which is the
// common correlation shape for sagas (subject = business identity).
package cloudevents

import (
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	saga "github.com/fxsml/gosaga"
)

// Marshal encodes a CloudEvent in the JSON event format for use as a
// RecordedEvent payload.
func Marshal(e *cloudevents.Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("cloudevents: nil event")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("cloudevents: marshal event: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a RecordedEvent payload as a CloudEvent.
func Unmarshal(payload []byte) (*cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("cloudevents: unmarshal payload: %w", err)
	}
	return &e, nil
}

// Policy adapts a CloudEvents-aware decision function to saga.Policy.
type Policy struct {
	// Decide maps a decoded CloudEvent to a routing decision. Required.
	Decide func(e *cloudevents.Event) saga.Decision

	// OnError is the decision for payloads that are not valid CloudEvents.
	// Zero value: Skip, so malformed events are acknowledged and dropped.
	OnError saga.Decision
}

// Interested implements saga.Policy.
func (p Policy) Interested(payload []byte) saga.Decision {
	e, err := Unmarshal(payload)
	if err != nil {
		return p.OnError
	}
	return p.Decide(e)
}

// SubjectPolicy routes by CloudEvent subject. Events whose type is one of
// startTypes spawn a fresh instance for their subject; any other event with
// a subject continues that instance; events without a subject are skipped.
func SubjectPolicy(startTypes ...string) saga.Policy {
	starts := make(map[string]struct{}, len(startTypes))
	for _, t := range startTypes {
		starts[t] = struct{}{}
	}
	return Policy{
		Decide: func(e *cloudevents.Event) saga.Decision {
			subject := e.Subject()
			if subject == "" {
				return saga.Skip()
			}
			if _, ok := starts[e.Type()]; ok {
				return saga.Start(subject)
			}
			return saga.Continue(subject)
		},
	}
}
