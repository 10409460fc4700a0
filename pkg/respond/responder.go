package respond

import (
	"context"

	"github.com/lucid-vigil/aegis/pkg/analysis"
)

// Responder defines the interface for anything that can carry out a
// recommended action: log it, page someone, push a firewall rule.
type Responder interface {
	// Name returns the unique name of the responder.
	Name() string
	// Respond carries out the recommendation. It is passed a context for
	// cancellation and the full analysis result so responders can include
	// evidence in whatever they emit.
	Respond(ctx context.Context, result analysis.AnalysisResult) error
}
