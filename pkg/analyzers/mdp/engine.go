// pkg/analyzers/mdp/engine.go
package mdp

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lucid-vigil/aegis/pkg/analysis"
	"github.com/lucid-vigil/aegis/pkg/errors"
)

// Params tunes value iteration.
type Params struct {
	Gamma         float64 `json:"gamma" mapstructure:"gamma"`                   // discount factor
	Epsilon       float64 `json:"epsilon" mapstructure:"epsilon"`               // convergence threshold on max value delta
	MaxIterations int     `json:"max_iterations" mapstructure:"max_iterations"` // iteration cap
}

// DefaultParams returns the standard value-iteration parameters.
func DefaultParams() Params {
	return Params{Gamma: 0.9, Epsilon: 0.01, MaxIterations: 100}
}

func (p Params) validate() error {
	if p.Gamma <= 0 || p.Gamma >= 1 {
		return errors.NewConfigError("mdp_engine",
			fmt.Errorf("discount factor must be in (0,1), got %g", p.Gamma), nil)
	}
	if p.Epsilon <= 0 {
		return errors.NewConfigError("mdp_engine",
			fmt.Errorf("convergence threshold must be positive, got %g", p.Epsilon), nil)
	}
	if p.MaxIterations <= 0 {
		return errors.NewConfigError("mdp_engine",
			fmt.Errorf("iteration cap must be positive, got %d", p.MaxIterations), nil)
	}
	return nil
}

// Thresholds is the belief ladder mapping a threat posterior onto a
// security state. A posterior below Suspicious reads as Normal, below
// UnderAttack as Suspicious, below Compromised as UnderAttack, and
// anything at or above Compromised as Compromised.
type Thresholds struct {
	Suspicious  float64 `json:"suspicious" mapstructure:"suspicious"`
	UnderAttack float64 `json:"under_attack" mapstructure:"under_attack"`
	Compromised float64 `json:"compromised" mapstructure:"compromised"`
}

// DefaultThresholds returns the standard belief ladder.
func DefaultThresholds() Thresholds {
	return Thresholds{Suspicious: 0.3, UnderAttack: 0.6, Compromised: 0.85}
}

func (t Thresholds) validate() error {
	if !(0 < t.Suspicious && t.Suspicious < t.UnderAttack && t.UnderAttack < t.Compromised && t.Compromised <= 1) {
		return errors.NewConfigError("mdp_engine",
			fmt.Errorf("belief thresholds must satisfy 0 < suspicious < under_attack < compromised <= 1, got %g/%g/%g",
				t.Suspicious, t.UnderAttack, t.Compromised), nil)
	}
	return nil
}

// Engine plans responses over the security-state MDP. It holds the current
// model and the policy derived from it; Reload swaps the model and
// recomputes the policy, so Recommend always answers from a policy that
// matches the model in force.
type Engine struct {
	mu         sync.RWMutex
	model      Model
	params     Params
	thresholds Thresholds
	policy     analysis.Policy
	logger     zerolog.Logger
}

// NewEngine validates the model and computes the initial policy.
func NewEngine(model Model, params Params, thresholds Thresholds, logger zerolog.Logger) (*Engine, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if err := thresholds.validate(); err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		model:      model,
		params:     params,
		thresholds: thresholds,
		logger:     logger.With().Str("component", "mdp_engine").Logger(),
	}
	e.policy = computePolicy(model, params)

	e.logger.Info().
		Int("iterations", e.policy.Iterations).
		Bool("unconverged", e.policy.Unconverged).
		Msg("Initial policy computed")

	return e, nil
}

// Reload replaces the model and recomputes the policy. An invalid model is
// rejected and the previous policy stays in force.
func (e *Engine) Reload(model Model) error {
	if err := model.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	e.model = model
	e.policy = computePolicy(model, e.params)
	policy := e.policy
	e.mu.Unlock()

	e.logger.Info().
		Int("iterations", policy.Iterations).
		Bool("unconverged", policy.Unconverged).
		Msg("Policy recomputed from reloaded model")
	return nil
}

// Retune applies new value-iteration parameters and belief thresholds,
// recomputing the policy against the current model. Invalid settings are
// rejected and the engine keeps its previous tuning.
func (e *Engine) Retune(params Params, thresholds Thresholds) error {
	if err := params.validate(); err != nil {
		return err
	}
	if err := thresholds.validate(); err != nil {
		return err
	}

	e.mu.Lock()
	e.params = params
	e.thresholds = thresholds
	e.policy = computePolicy(e.model, params)
	policy := e.policy
	e.mu.Unlock()

	e.logger.Info().
		Int("iterations", policy.Iterations).
		Bool("unconverged", policy.Unconverged).
		Msg("Policy recomputed with new tuning")
	return nil
}

// Policy returns a copy of the current policy.
func (e *Engine) Policy() analysis.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyPolicy(e.policy)
}

// StateFromBelief maps a threat posterior onto a security state via the
// configured threshold ladder.
func (e *Engine) StateFromBelief(posterior float64) analysis.SecurityState {
	e.mu.RLock()
	t := e.thresholds
	e.mu.RUnlock()

	switch {
	case posterior < t.Suspicious:
		return analysis.StateNormal
	case posterior < t.UnderAttack:
		return analysis.StateSuspicious
	case posterior < t.Compromised:
		return analysis.StateUnderAttack
	default:
		return analysis.StateCompromised
	}
}

// RecommendForState returns the policy's action for a known state.
func (e *Engine) RecommendForState(state analysis.SecurityState) analysis.Action {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.ActionFor(state)
}

// Recommend maps a threat posterior to a state and returns that state with
// the policy's action for it.
func (e *Engine) Recommend(posterior float64) (analysis.SecurityState, analysis.Action) {
	state := e.StateFromBelief(posterior)
	return state, e.RecommendForState(state)
}

// ComputePolicy derives the optimal policy for a model with the given
// tuning, validating both first. The engine uses this internally; it is
// exported for callers that want a policy without standing up an engine.
func ComputePolicy(model Model, params Params) (analysis.Policy, error) {
	if err := params.validate(); err != nil {
		return analysis.Policy{}, err
	}
	if err := model.Validate(); err != nil {
		return analysis.Policy{}, err
	}
	return computePolicy(model, params), nil
}

// computePolicy runs value iteration. V'(s) = max_a [ R(s,a) + gamma *
// sum_s' P(s'|s,a) V(s') ], sweeping until the largest per-state delta
// drops below epsilon or the iteration cap is reached. Hitting the cap is
// not fatal: the best-so-far policy is returned flagged Unconverged.
func computePolicy(model Model, params Params) analysis.Policy {
	states := analysis.States()
	actions := analysis.Actions()

	values := make(map[analysis.SecurityState]float64, len(states))
	for _, s := range states {
		values[s] = 0
	}

	var (
		iterations  int
		unconverged = true
	)
	for iterations = 1; iterations <= params.MaxIterations; iterations++ {
		next := make(map[analysis.SecurityState]float64, len(states))
		delta := 0.0
		for _, s := range states {
			best := math.Inf(-1)
			for _, a := range actions {
				q := qValue(model, params.Gamma, values, s, a)
				if q > best {
					best = q
				}
			}
			next[s] = best
			if d := math.Abs(best - values[s]); d > delta {
				delta = d
			}
		}
		values = next
		if delta < params.Epsilon {
			unconverged = false
			break
		}
	}
	if iterations > params.MaxIterations {
		iterations = params.MaxIterations
	}

	// Greedy extraction. Iterating actions in ascending severity with a
	// strict improvement test makes ties resolve to the least severe action.
	policyActions := make(map[analysis.SecurityState]analysis.Action, len(states))
	for _, s := range states {
		best := math.Inf(-1)
		bestAction := analysis.ActionAlert
		for _, a := range actions {
			q := qValue(model, params.Gamma, values, s, a)
			if q > best+qTieTolerance {
				best = q
				bestAction = a
			}
		}
		policyActions[s] = bestAction
	}

	return analysis.Policy{
		Actions:     policyActions,
		Values:      values,
		Iterations:  iterations,
		Unconverged: unconverged,
	}
}

// qTieTolerance treats Q-values this close as equal, so floating-point
// noise cannot flip a tie toward the more severe action.
const qTieTolerance = 1e-9

func qValue(model Model, gamma float64, values map[analysis.SecurityState]float64, s analysis.SecurityState, a analysis.Action) float64 {
	q := model.Rewards[s][a]
	for next, p := range model.Transitions[a][s] {
		q += gamma * p * values[next]
	}
	return q
}

func copyPolicy(p analysis.Policy) analysis.Policy {
	actions := make(map[analysis.SecurityState]analysis.Action, len(p.Actions))
	for s, a := range p.Actions {
		actions[s] = a
	}
	values := make(map[analysis.SecurityState]float64, len(p.Values))
	for s, v := range p.Values {
		values[s] = v
	}
	return analysis.Policy{
		Actions:     actions,
		Values:      values,
		Iterations:  p.Iterations,
		Unconverged: p.Unconverged,
	}
}
