// pkg/events/event.go
package events

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of a security event. Routing in the agent is a
// fixed mapping over these kinds, so the set is closed by design.
type Kind string

const (
	KindLoginAttempt   Kind = "login_attempt"
	KindServiceChange  Kind = "service_change"
	KindNetworkTraffic Kind = "network_traffic"
	KindRepoActivity   Kind = "repo_activity"
)

// Kinds returns every known event kind.
func Kinds() []Kind {
	return []Kind{KindLoginAttempt, KindServiceChange, KindNetworkTraffic, KindRepoActivity}
}

// Event is a discrete security observation handed to the agent by a sensor.
// Events are immutable once created: New copies both maps and accessors
// never expose the internal ones for mutation.
type Event struct {
	ID         string                 `json:"id"`
	Kind       Kind                   `json:"kind"`
	Source     string                 `json:"source"` // which sensor produced this
	Timestamp  time.Time              `json:"timestamp"`
	attributes map[string]string
	payload    map[string]interface{}
}

// New creates an immutable event. An empty id is replaced with a fresh UUID
// and a zero timestamp with the current time.
func New(id string, kind Kind, source string, ts time.Time, attributes map[string]string, payload map[string]interface{}) Event {
	if id == "" {
		id = uuid.NewString()
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	attrs := make(map[string]string, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}
	pl := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		pl[k] = v
	}

	return Event{
		ID:         id,
		Kind:       kind,
		Source:     source,
		Timestamp:  ts,
		attributes: attrs,
		payload:    pl,
	}
}

// Attr returns the named attribute and whether it is present.
func (e Event) Attr(name string) (string, bool) {
	v, ok := e.attributes[name]
	return v, ok
}

// AttrOr returns the named attribute or a fallback when absent.
func (e Event) AttrOr(name, fallback string) string {
	if v, ok := e.attributes[name]; ok {
		return v
	}
	return fallback
}

// HasAttr reports whether the named attribute is present.
func (e Event) HasAttr(name string) bool {
	_, ok := e.attributes[name]
	return ok
}

// Features returns the attribute names in sorted order. The Bayesian scorer
// treats each attribute as one piece of evidence; sorting keeps iteration
// deterministic (the posterior itself is order-invariant regardless).
func (e Event) Features() []string {
	features := make([]string, 0, len(e.attributes))
	for name := range e.attributes {
		features = append(features, name)
	}
	sort.Strings(features)
	return features
}

// Payload returns a copy of the event payload.
func (e Event) Payload() map[string]interface{} {
	pl := make(map[string]interface{}, len(e.payload))
	for k, v := range e.payload {
		pl[k] = v
	}
	return pl
}

// PayloadValue returns one payload entry and whether it is present.
func (e Event) PayloadValue(name string) (interface{}, bool) {
	v, ok := e.payload[name]
	return v, ok
}
