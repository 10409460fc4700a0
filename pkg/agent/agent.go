// pkg/agent/agent.go
//
// The agent is the decision pipeline: every event is validated, routed to
// the analyzers for its kind, their recommendations fused into one action,
// the action dispatched, and the outcome recorded. Run serializes all of
// this through a single goroutine, so decisions have a total order and the
// analyzers never see concurrent events.
package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lucid-vigil/aegis/pkg/analysis"
	"github.com/lucid-vigil/aegis/pkg/analyzers/bayes"
	"github.com/lucid-vigil/aegis/pkg/analyzers/impact"
	"github.com/lucid-vigil/aegis/pkg/analyzers/mdp"
	"github.com/lucid-vigil/aegis/pkg/analyzers/repoactivity"
	"github.com/lucid-vigil/aegis/pkg/errors"
	"github.com/lucid-vigil/aegis/pkg/events"
	"github.com/lucid-vigil/aegis/pkg/metrics"
	"github.com/lucid-vigil/aegis/pkg/respond"
	"github.com/lucid-vigil/aegis/pkg/storage"
)

// RecordStore is the slice of the storage API the agent needs. It is
// satisfied by *storage.Store and by the failing stub in the tests.
type RecordStore interface {
	SaveResult(ctx context.Context, result analysis.AnalysisResult) error
}

var _ RecordStore = (*storage.Store)(nil)

// Config tunes the agent.
type Config struct {
	// QueueSize is the intake buffer; Submit fails once it is full.
	QueueSize int
}

// Agent wires the validator, the analyzers, the responder dispatcher and
// the record store into one pipeline.
type Agent struct {
	validator  *events.Validator
	scorer     *bayes.Scorer
	engine     *mdp.Engine
	impact     *impact.Analyzer
	repo       *repoactivity.Analyzer
	dispatcher *respond.Dispatcher
	store      RecordStore
	metrics    *metrics.Metrics
	errHandler *errors.Handler
	logger     zerolog.Logger

	intake chan events.Event
}

// New creates an agent. The store may be nil, in which case decisions are
// dispatched but not persisted.
func New(cfg Config, validator *events.Validator, scorer *bayes.Scorer, engine *mdp.Engine,
	impactAnalyzer *impact.Analyzer, repoAnalyzer *repoactivity.Analyzer,
	dispatcher *respond.Dispatcher, store RecordStore, m *metrics.Metrics, logger zerolog.Logger) *Agent {

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	componentLogger := logger.With().Str("component", "agent").Logger()

	return &Agent{
		validator:  validator,
		scorer:     scorer,
		engine:     engine,
		impact:     impactAnalyzer,
		repo:       repoAnalyzer,
		dispatcher: dispatcher,
		store:      store,
		metrics:    m,
		errHandler: errors.NewHandler(componentLogger, nil),
		logger:     componentLogger,
		intake:     make(chan events.Event, cfg.QueueSize),
	}
}

// Submit queues an event for processing. It fails when the intake buffer
// is full rather than blocking the producing sensor.
func (a *Agent) Submit(event events.Event) error {
	select {
	case a.intake <- event:
		if a.metrics != nil {
			a.metrics.IntakeDepth.Set(float64(len(a.intake)))
		}
		return nil
	default:
		return fmt.Errorf("intake queue full, dropping event %s", event.ID)
	}
}

// Run consumes the intake queue until the context is cancelled. All event
// processing happens on this goroutine.
func (a *Agent) Run(ctx context.Context) {
	a.logger.Info().Msg("Agent started")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("Agent stopped")
			return
		case event := <-a.intake:
			if a.metrics != nil {
				a.metrics.IntakeDepth.Set(float64(len(a.intake)))
			}
			if _, _, err := a.Process(ctx, event); err != nil {
				a.handleErr(ctx, err)
			}
		}
	}
}

// Process runs one event through the full pipeline and returns the decided
// action with its full result. Rejections (validation, routing) return an
// error and no result; analyzer failures degrade to the alert fallback
// rather than dropping the event.
func (a *Agent) Process(ctx context.Context, event events.Event) (analysis.Action, analysis.AnalysisResult, error) {
	started := time.Now()

	if err := a.validator.Validate(event); err != nil {
		a.countEvent(event, "rejected")
		return analysis.ActionAllow, analysis.AnalysisResult{}, err
	}

	runners, ok := a.route(event.Kind)
	if !ok {
		a.countEvent(event, "unroutable")
		unroutable := errors.NewUnroutableError("agent", event.ID, string(event.Kind))
		unroutable.Details["known_kinds"] = events.Kinds()
		return analysis.ActionAllow, analysis.AnalysisResult{}, unroutable
	}

	var results []analysis.AnalysisResult
	for _, run := range runners {
		result, err := run.analyze(ctx, event)
		if err != nil {
			if a.metrics != nil {
				a.metrics.AnalyzerFailures.WithLabelValues(run.name).Inc()
			}
			a.handleErr(ctx, err)
			continue
		}
		results = append(results, result)
	}

	decision := a.fuse(event, results)

	if err := a.dispatcher.Dispatch(ctx, decision); err != nil {
		a.logger.Error().Err(err).Str("event_id", event.ID).Msg("Responder dispatch failed")
	}

	// Persistence failures are degraded operation, not pipeline failures:
	// the action has already been dispatched.
	if a.store != nil {
		if err := a.store.SaveResult(ctx, decision); err != nil {
			if a.metrics != nil {
				a.metrics.StorageFailures.Inc()
			}
			a.handleErr(ctx, errors.NewStorageError("agent", event.ID, err))
		}
	}

	if a.metrics != nil {
		a.countEvent(event, "decided")
		a.metrics.ActionsTotal.WithLabelValues(decision.RecommendedAction.String()).Inc()
		a.metrics.DecisionLatency.WithLabelValues(string(event.Kind)).Observe(time.Since(started).Seconds())
	}

	a.logger.Info().
		Str("event_id", event.ID).
		Str("kind", string(event.Kind)).
		Str("action", decision.RecommendedAction.String()).
		Str("provenance", string(decision.Provenance)).
		Msg("Event decided")

	return decision.RecommendedAction, decision, nil
}

// runner pairs an analyzer name with its invocation.
type runner struct {
	name    string
	analyze func(ctx context.Context, event events.Event) (analysis.AnalysisResult, error)
}

// route returns the analyzers for an event kind. The mapping is fixed:
// authentication and network events get the Bayesian threat assessment,
// service changes get the blast-radius analysis, and repository activity
// gets both the heuristic scorer and the threat assessment.
func (a *Agent) route(kind events.Kind) ([]runner, bool) {
	threat := runner{name: "threat_assessment", analyze: a.assessThreat}
	switch kind {
	case events.KindLoginAttempt, events.KindNetworkTraffic:
		return []runner{threat}, true
	case events.KindServiceChange:
		return []runner{{name: "impact", analyze: a.assessImpact}}, true
	case events.KindRepoActivity:
		return []runner{{name: "repo_activity", analyze: a.assessRepoActivity}, threat}, true
	default:
		return nil, false
	}
}

// assessThreat scores the event's features and maps the resulting belief
// through the MDP policy.
func (a *Agent) assessThreat(_ context.Context, event events.Event) (analysis.AnalysisResult, error) {
	belief, err := a.scorer.Score(event, a.scorer.DefaultPrior())
	if err != nil {
		return analysis.AnalysisResult{}, err
	}
	state, action := a.engine.Recommend(belief.Posterior)

	return analysis.AnalysisResult{
		ID:                uuid.NewString(),
		EventID:           event.ID,
		Timestamp:         time.Now(),
		Provenance:        analysis.ProvenancePolicy,
		RecommendedAction: action,
		State:             &state,
		Belief:            &belief,
	}, nil
}

func (a *Agent) assessImpact(_ context.Context, event events.Event) (analysis.AnalysisResult, error) {
	return a.impact.Analyze(event)
}

func (a *Agent) assessRepoActivity(_ context.Context, event events.Event) (analysis.AnalysisResult, error) {
	return a.repo.Analyze(event)
}

// provenancePriority breaks severity ties during fusion: the policy
// engine's recommendation outranks the impact analyzer's, which outranks
// the raw scores.
var provenancePriority = map[analysis.Provenance]int{
	analysis.ProvenancePolicy:       0,
	analysis.ProvenanceImpact:       1,
	analysis.ProvenanceBayes:        2,
	analysis.ProvenanceRepoActivity: 3,
	analysis.ProvenanceFallback:     4,
}

// fuse reduces the per-analyzer results to one decision: the most severe
// recommended action wins, ties resolve by analyzer priority. When every
// analyzer failed, the decision degrades to an alert so a failing pipeline
// can never silently allow.
func (a *Agent) fuse(event events.Event, results []analysis.AnalysisResult) analysis.AnalysisResult {
	if len(results) == 0 {
		a.logger.Warn().Str("event_id", event.ID).Msg("All analyzers failed, falling back to alert")
		return analysis.AnalysisResult{
			ID:                uuid.NewString(),
			EventID:           event.ID,
			Timestamp:         time.Now(),
			Provenance:        analysis.ProvenanceFallback,
			RecommendedAction: analysis.ActionAlert,
		}
	}

	best := results[0]
	for _, candidate := range results[1:] {
		if candidate.RecommendedAction > best.RecommendedAction {
			best = candidate
			continue
		}
		if candidate.RecommendedAction == best.RecommendedAction &&
			provenancePriority[candidate.Provenance] < provenancePriority[best.Provenance] {
			best = candidate
		}
	}

	// Carry the losing analyzers' evidence into the decision record.
	for _, candidate := range results {
		if candidate.ID == best.ID {
			continue
		}
		if best.Belief == nil && candidate.Belief != nil {
			best.Belief = candidate.Belief
		}
		if best.State == nil && candidate.State != nil {
			best.State = candidate.State
		}
		if best.Impact == nil && candidate.Impact != nil {
			best.Impact = candidate.Impact
		}
		best.RiskFactors = append(best.RiskFactors, candidate.RiskFactors...)
	}
	return best
}

func (a *Agent) countEvent(event events.Event, outcome string) {
	if a.metrics != nil {
		a.metrics.EventsTotal.WithLabelValues(string(event.Kind), outcome).Inc()
	}
}

func (a *Agent) handleErr(ctx context.Context, err error) {
	var ae *errors.AnalysisError
	if stderrors.As(err, &ae) {
		a.errHandler.Handle(ctx, ae)
		return
	}
	a.logger.Error().Err(err).Msg("Unclassified pipeline error")
}
