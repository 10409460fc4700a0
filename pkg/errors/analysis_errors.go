// pkg/errors/analysis_errors.go
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies an analysis error. The taxonomy is fixed: callers branch
// on Kind, never on message text.
type Kind string

const (
	// KindValidation marks a malformed or incomplete event. The event is
	// rejected before routing.
	KindValidation Kind = "validation"
	// KindUnroutable marks an event whose type maps to no analyzer.
	KindUnroutable Kind = "unroutable"
	// KindDegenerateLikelihood marks a likelihood table entry where both
	// the malicious and benign branches are zero after smoothing. This is
	// a configuration error and should fail fast at startup.
	KindDegenerateLikelihood Kind = "degenerate_likelihood"
	// KindUnknownNode marks an impact query for a service absent from the
	// dependency graph. Only that query is rejected.
	KindUnknownNode Kind = "unknown_node"
	// KindStorage marks a persistence write failure. Processing of the
	// event still completes; a dropped analysis record is acceptable
	// degraded behaviour, a dropped action recommendation is not.
	KindStorage Kind = "storage_unavailable"
	// KindConfig marks any other invalid configuration (bad matrices,
	// thresholds out of order, and so on).
	KindConfig Kind = "configuration"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AnalysisError is a structured error from the decision pipeline. Every
// rejected event yields one of these identifying the event and the reason,
// never a silent drop.
type AnalysisError struct {
	Kind        Kind                   `json:"kind"`
	Component   string                 `json:"component"`
	EventID     string                 `json:"event_id,omitempty"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Severity    Severity               `json:"severity"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

// Error implements the error interface.
func (ae *AnalysisError) Error() string {
	if ae.EventID != "" {
		return fmt.Sprintf("[%s] %s (event %s): %s", ae.Component, ae.Kind, ae.EventID, ae.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", ae.Component, ae.Kind, ae.Message)
}

// Unwrap returns the underlying cause.
func (ae *AnalysisError) Unwrap() error {
	return ae.Cause
}

// KindOf extracts the Kind from any error in err's chain, or "" when err is
// not an AnalysisError.
func KindOf(err error) Kind {
	var ae *AnalysisError
	if stderrors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Handler logs analysis errors with a level matching their severity and
// forwards them to an optional collector for statistics.
type Handler struct {
	logger    zerolog.Logger
	collector Collector
}

// Collector defines how errors are collected and reported.
type Collector interface {
	Collect(ctx context.Context, err *AnalysisError) error
}

// NewHandler creates a new error handler.
func NewHandler(logger zerolog.Logger, collector Collector) *Handler {
	return &Handler{
		logger:    logger,
		collector: collector,
	}
}

// Handle logs and collects an analysis error.
func (h *Handler) Handle(ctx context.Context, err *AnalysisError) error {
	logEvent := h.logEvent(err.Severity).
		Str("component", err.Component).
		Str("kind", string(err.Kind)).
		Str("message", err.Message).
		Bool("recoverable", err.Recoverable)

	if err.EventID != "" {
		logEvent = logEvent.Str("event_id", err.EventID)
	}
	if err.Details != nil {
		logEvent = logEvent.Interface("details", err.Details)
	}
	if err.Cause != nil {
		logEvent = logEvent.AnErr("cause", err.Cause)
	}

	logEvent.Msg("Analysis error occurred")

	if h.collector != nil {
		return h.collector.Collect(ctx, err)
	}
	return nil
}

func (h *Handler) logEvent(severity Severity) *zerolog.Event {
	switch severity {
	case SeverityCritical:
		return h.logger.Error()
	case SeverityHigh:
		return h.logger.Error()
	case SeverityMedium:
		return h.logger.Warn()
	case SeverityLow:
		return h.logger.Info()
	default:
		return h.logger.Info()
	}
}

// Helper constructors for the fixed taxonomy.

func NewValidationError(component, eventID, message string, details map[string]interface{}) *AnalysisError {
	return &AnalysisError{
		Kind:        KindValidation,
		Component:   component,
		EventID:     eventID,
		Message:     message,
		Details:     details,
		Timestamp:   time.Now(),
		Severity:    SeverityLow,
		Recoverable: true,
	}
}

func NewUnroutableError(component, eventID string, eventType string) *AnalysisError {
	return &AnalysisError{
		Kind:      KindUnroutable,
		Component: component,
		EventID:   eventID,
		Message:   fmt.Sprintf("no analyzer mapped for event type %q", eventType),
		Details: map[string]interface{}{
			"event_type": eventType,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
	}
}

func NewDegenerateLikelihoodError(component, feature string) *AnalysisError {
	return &AnalysisError{
		Kind:      KindDegenerateLikelihood,
		Component: component,
		Message:   fmt.Sprintf("both likelihood branches are zero for feature %q after smoothing", feature),
		Details: map[string]interface{}{
			"feature": feature,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: false,
	}
}

func NewUnknownNodeError(component, nodeID string) *AnalysisError {
	return &AnalysisError{
		Kind:      KindUnknownNode,
		Component: component,
		Message:   fmt.Sprintf("service %q is not present in the dependency graph", nodeID),
		Details: map[string]interface{}{
			"node_id": nodeID,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
	}
}

func NewStorageError(component, eventID string, cause error) *AnalysisError {
	return &AnalysisError{
		Kind:        KindStorage,
		Component:   component,
		EventID:     eventID,
		Message:     "failed to persist analysis record",
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewConfigError(component string, cause error, details map[string]interface{}) *AnalysisError {
	return &AnalysisError{
		Kind:        KindConfig,
		Component:   component,
		Message:     "invalid configuration",
		Details:     details,
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: false,
		Cause:       cause,
	}
}
