// pkg/analyzers/impact/analyzer.go
package impact

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lucid-vigil/aegis/pkg/analysis"
	"github.com/lucid-vigil/aegis/pkg/events"
)

// Analyzer turns service-change events into blast-radius assessments over
// the dependency graph.
type Analyzer struct {
	graph  *Graph
	logger zerolog.Logger
}

// NewAnalyzer creates an impact analyzer over the given graph.
func NewAnalyzer(graph *Graph, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		graph:  graph,
		logger: logger.With().Str("component", "impact_analyzer").Logger(),
	}
}

// Graph exposes the underlying dependency graph for registration.
func (a *Analyzer) Graph() *Graph {
	return a.graph
}

// Analyze computes the downstream impact of the service named by the event.
// Unknown services reject only this query; the graph is untouched.
func (a *Analyzer) Analyze(event events.Event) (analysis.AnalysisResult, error) {
	service := event.AttrOr("service", "")
	report, err := a.graph.ImpactOf(service)
	if err != nil {
		return analysis.AnalysisResult{}, err
	}

	a.logger.Debug().
		Str("service", service).
		Int("impacted", len(report.Impacted)).
		Float64("score", report.Score).
		Str("severity", report.Severity).
		Msg("Impact computed")

	return analysis.AnalysisResult{
		ID:                uuid.NewString(),
		EventID:           event.ID,
		Timestamp:         time.Now(),
		Provenance:        analysis.ProvenanceImpact,
		RecommendedAction: actionForSeverity(report.Severity),
		Impact:            &report,
	}, nil
}

// actionForSeverity maps report severity onto the response ladder. Impact
// alone never isolates: containment of a live compromise is the policy
// engine's call, not a topology measurement's.
func actionForSeverity(severity string) analysis.Action {
	switch severity {
	case "critical":
		return analysis.ActionBlock
	case "high":
		return analysis.ActionInvestigate
	case "medium":
		return analysis.ActionAlert
	default:
		return analysis.ActionAllow
	}
}
