package messenger

import (
	"context"
	"fmt"
)

// Restricted is a capability-restricted handle on the hub. A component is
// handed a Restricted listing only the actions it may call and the events
// it may hear or publish; anything outside the lists fails.
type Restricted struct {
	name           string
	hub            *Messenger
	allowedActions map[string]struct{}
	allowedEvents  map[string]struct{}
}

// NewRestricted builds a handle named after its owning component.
func (m *Messenger) NewRestricted(name string, allowedActions, allowedEvents []string) *Restricted {
	r := &Restricted{
		name:           name,
		hub:            m,
		allowedActions: make(map[string]struct{}, len(allowedActions)),
		allowedEvents:  make(map[string]struct{}, len(allowedEvents)),
	}
	for _, a := range allowedActions {
		r.allowedActions[a] = struct{}{}
	}
	for _, e := range allowedEvents {
		r.allowedEvents[e] = struct{}{}
	}
	return r
}

// Call invokes a named action, if this handle is allowed to.
func (r *Restricted) Call(ctx context.Context, action string, params interface{}) (interface{}, error) {
	if _, ok := r.allowedActions[action]; !ok {
		return nil, fmt.Errorf("%w: %s calling %s", ErrActionNotAllowed, r.name, action)
	}
	return r.hub.call(ctx, action, params)
}

// Publish distributes an event to all subscribers, if allowed.
func (r *Restricted) Publish(event string, payload interface{}) error {
	if _, ok := r.allowedEvents[event]; !ok {
		return fmt.Errorf("%w: %s publishing %s", ErrEventNotAllowed, r.name, event)
	}
	r.hub.publish(event, payload)
	return nil
}

// Subscribe installs an event handler, if allowed.
func (r *Restricted) Subscribe(event string, handler EventHandler) (Unsubscribe, error) {
	if _, ok := r.allowedEvents[event]; !ok {
		return nil, fmt.Errorf("%w: %s subscribing to %s", ErrEventNotAllowed, r.name, event)
	}
	return r.hub.subscribe(event, handler), nil
}
