package respond

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/aegis/pkg/analysis"
)

// Dispatcher fans a decided action out to the responders registered for it.

// Dispatcher manages responders and routes each decision to the ones
// subscribed to its action.
type Dispatcher struct {
	responders map[string]Responder
	// subscriptions[action] lists responder names fired for that action.
	subscriptions map[analysis.Action][]string
	enabled       bool
	mu            sync.RWMutex
}

// NewDispatcher creates a dispatcher. When enabled is false every dispatch
// is logged and skipped, which is the dry-run mode used in staging.
func NewDispatcher(enabled bool) *Dispatcher {
	dispatcher := &Dispatcher{
		responders:    make(map[string]Responder),
		subscriptions: make(map[analysis.Action][]string),
		enabled:       enabled,
	}

	// Every action is at least logged.
	logResponder := NewLogResponder()
	dispatcher.Register(logResponder, analysis.Actions()...)

	return dispatcher
}

// Register adds a responder and subscribes it to the given actions.
func (d *Dispatcher) Register(responder Responder, actions ...analysis.Action) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.responders[responder.Name()] = responder
	for _, action := range actions {
		d.subscriptions[action] = append(d.subscriptions[action], responder.Name())
	}
	log.Info().Msgf("Responder '%s' registered.", responder.Name())
}

// Dispatch routes a decision to every responder subscribed to its action.
// Responder failures are logged and do not stop the remaining responders;
// the first failure is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, result analysis.AnalysisResult) error {
	if !d.enabled {
		log.Info().
			Str("action", result.RecommendedAction.String()).
			Str("event_id", result.EventID).
			Msg("Responders are disabled, skipping dispatch.")
		return nil
	}

	d.mu.RLock()
	names := append([]string(nil), d.subscriptions[result.RecommendedAction]...)
	d.mu.RUnlock()

	if len(names) == 0 {
		return fmt.Errorf("no responder subscribed to action '%s'", result.RecommendedAction)
	}

	var firstErr error
	for _, name := range names {
		d.mu.RLock()
		responder := d.responders[name]
		d.mu.RUnlock()

		if err := responder.Respond(ctx, result); err != nil {
			log.Error().Err(err).Str("responder", name).Str("event_id", result.EventID).Msg("Responder failed.")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// IsEnabled returns whether dispatch is live.
func (d *Dispatcher) IsEnabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled toggles live dispatch.
func (d *Dispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
	log.Info().Bool("enabled", enabled).Msg("Responder dispatch status changed.")
}
