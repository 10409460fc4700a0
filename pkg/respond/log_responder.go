package respond

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/aegis/pkg/analysis"
)

// LogResponder records every decision in the structured log. It is the
// baseline responder registered for all actions: whatever else fires, the
// decision trail exists.
type LogResponder struct{}

// NewLogResponder creates the logging responder.
func NewLogResponder() *LogResponder {
	return &LogResponder{}
}

// Name returns the responder name.
func (r *LogResponder) Name() string {
	return "log"
}

// Respond writes the decision to the log at a level matching its severity.
func (r *LogResponder) Respond(_ context.Context, result analysis.AnalysisResult) error {
	event := log.Info()
	switch result.RecommendedAction {
	case analysis.ActionBlock, analysis.ActionIsolate:
		event = log.Warn()
	}

	event = event.
		Str("event_id", result.EventID).
		Str("action", result.RecommendedAction.String()).
		Str("provenance", string(result.Provenance))
	if result.State != nil {
		event = event.Str("state", result.State.String())
	}
	if result.Belief != nil {
		event = event.Float64("posterior", result.Belief.Posterior)
	}
	if len(result.RiskFactors) > 0 {
		event = event.Strs("risk_factors", result.RiskFactors)
	}
	event.Msg("Security decision")
	return nil
}
