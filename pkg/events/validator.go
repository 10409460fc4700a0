// pkg/events/validator.go
package events

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lucid-vigil/aegis/pkg/errors"
)

// requiredAttrs lists the attributes an event must carry for its kind's
// analyzers to run. Missing attributes reject the event before routing.
var requiredAttrs = map[Kind][]string{
	KindLoginAttempt:   {"username", "source_ip"},
	KindServiceChange:  {"service"},
	KindNetworkTraffic: {"protocol", "source_ip"},
	KindRepoActivity:   {"repo", "user", "activity"},
}

// Validator validates and sanitizes security events before they enter the
// agent's intake. It also rate-limits per event source so a noisy sensor
// cannot starve the pipeline.
type Validator struct {
	mu           sync.Mutex
	rateLimiters map[string]*rate.Limiter // source -> limiter
	maxPerMinute int
	burst        int
}

// NewValidator creates an event validator allowing maxPerMinute events per
// source with the given burst.
func NewValidator(maxPerMinute, burst int) *Validator {
	if maxPerMinute <= 0 {
		maxPerMinute = 100
	}
	if burst <= 0 {
		burst = 10
	}
	return &Validator{
		rateLimiters: make(map[string]*rate.Limiter),
		maxPerMinute: maxPerMinute,
		burst:        burst,
	}
}

// Validate checks an event's shape against its kind's requirements. The
// returned error is always a *errors.AnalysisError with KindValidation.
func (v *Validator) Validate(event Event) error {
	if event.Kind == "" {
		return errors.NewValidationError("event_validator", event.ID, "event kind is required", nil)
	}
	if event.Source == "" {
		return errors.NewValidationError("event_validator", event.ID, "event source is required", nil)
	}
	if event.Timestamp.IsZero() {
		return errors.NewValidationError("event_validator", event.ID, "event timestamp is required", nil)
	}

	required, known := requiredAttrs[event.Kind]
	if !known {
		// Unknown kinds are the router's problem (UnroutableEvent), not a
		// validation failure.
		required = nil
	}

	var missing []string
	for _, attr := range required {
		if val, ok := event.Attr(attr); !ok || strings.TrimSpace(val) == "" {
			missing = append(missing, attr)
		}
	}
	if len(missing) > 0 {
		return errors.NewValidationError("event_validator", event.ID, "required attributes missing", map[string]interface{}{
			"kind":    string(event.Kind),
			"missing": missing,
		})
	}

	if !v.allow(event.Source) {
		return errors.NewValidationError("event_validator", event.ID, "rate limit exceeded for source", map[string]interface{}{
			"source": event.Source,
		})
	}

	return nil
}

// allow checks the per-source rate limiter, creating it on first sight.
func (v *Validator) allow(source string) bool {
	v.mu.Lock()
	limiter, exists := v.rateLimiters[source]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(v.maxPerMinute)), v.burst)
		v.rateLimiters[source] = limiter
	}
	v.mu.Unlock()

	return limiter.Allow()
}

// RequiredAttrs returns the required attribute names for a kind.
func RequiredAttrs(kind Kind) []string {
	attrs := requiredAttrs[kind]
	out := make([]string, len(attrs))
	copy(out, attrs)
	return out
}
