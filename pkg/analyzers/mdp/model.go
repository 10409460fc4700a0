// pkg/analyzers/mdp/model.go
package mdp

import (
	"fmt"
	"math"

	"github.com/lucid-vigil/aegis/pkg/analysis"
	"github.com/lucid-vigil/aegis/pkg/errors"
)

// rowTolerance is how far a transition row may drift from summing to 1
// before the model is rejected. Hand-edited YAML rounds; physics doesn't.
const rowTolerance = 1e-6

// Model is the environment the policy engine plans against: per-action
// stochastic transition matrices over the security states, plus a reward
// for taking each action in each state.
type Model struct {
	// Transitions[action][from][to] = P(to | from, action)
	Transitions map[analysis.Action]map[analysis.SecurityState]map[analysis.SecurityState]float64 `json:"transitions" mapstructure:"transitions"`
	// Rewards[state][action] = immediate reward
	Rewards map[analysis.SecurityState]map[analysis.Action]float64 `json:"rewards" mapstructure:"rewards"`
}

// Validate checks that the model is a well-formed MDP: every action has a
// transition row for every state, every row is a probability distribution,
// and every state/action pair has a reward.
func (m Model) Validate() error {
	for _, action := range analysis.Actions() {
		rows, ok := m.Transitions[action]
		if !ok {
			return errors.NewConfigError("mdp_model",
				fmt.Errorf("no transition matrix for action %s", action), nil)
		}
		for _, from := range analysis.States() {
			row, ok := rows[from]
			if !ok {
				return errors.NewConfigError("mdp_model",
					fmt.Errorf("no transition row for action %s from state %s", action, from), nil)
			}
			sum := 0.0
			for to, p := range row {
				if p < 0 || p > 1 || math.IsNaN(p) {
					return errors.NewConfigError("mdp_model",
						fmt.Errorf("transition P(%s | %s, %s) = %g is not a probability", to, from, action, p), nil)
				}
				sum += p
			}
			if math.Abs(sum-1) > rowTolerance {
				return errors.NewConfigError("mdp_model",
					fmt.Errorf("transition row for action %s from state %s sums to %g, want 1", action, from, sum),
					map[string]interface{}{"action": action.String(), "state": from.String(), "sum": sum})
			}
		}
	}

	for _, state := range analysis.States() {
		row, ok := m.Rewards[state]
		if !ok {
			return errors.NewConfigError("mdp_model",
				fmt.Errorf("no reward row for state %s", state), nil)
		}
		for _, action := range analysis.Actions() {
			r, ok := row[action]
			if !ok {
				return errors.NewConfigError("mdp_model",
					fmt.Errorf("no reward for state %s action %s", state, action), nil)
			}
			if math.IsNaN(r) || math.IsInf(r, 0) {
				return errors.NewConfigError("mdp_model",
					fmt.Errorf("reward for state %s action %s is not finite", state, action), nil)
			}
		}
	}
	return nil
}

// DefaultModel returns the built-in threat-response MDP. Rewards encode the
// operational cost trade-off: permissive actions are cheap in Normal and
// catastrophic once compromised, aggressive actions carry a standing cost
// that only pays off under active attack.
func DefaultModel() Model {
	n, s, a, c := analysis.StateNormal, analysis.StateSuspicious, analysis.StateUnderAttack, analysis.StateCompromised

	return Model{
		Transitions: map[analysis.Action]map[analysis.SecurityState]map[analysis.SecurityState]float64{
			analysis.ActionAllow: {
				n: {n: 0.95, s: 0.04, a: 0.01, c: 0.00},
				s: {n: 0.10, s: 0.60, a: 0.25, c: 0.05},
				a: {n: 0.00, s: 0.05, a: 0.60, c: 0.35},
				c: {n: 0.00, s: 0.00, a: 0.10, c: 0.90},
			},
			analysis.ActionAlert: {
				n: {n: 0.94, s: 0.05, a: 0.01, c: 0.00},
				s: {n: 0.15, s: 0.60, a: 0.20, c: 0.05},
				a: {n: 0.00, s: 0.10, a: 0.60, c: 0.30},
				c: {n: 0.00, s: 0.00, a: 0.15, c: 0.85},
			},
			analysis.ActionInvestigate: {
				n: {n: 0.90, s: 0.08, a: 0.02, c: 0.00},
				s: {n: 0.40, s: 0.45, a: 0.12, c: 0.03},
				a: {n: 0.05, s: 0.25, a: 0.55, c: 0.15},
				c: {n: 0.02, s: 0.08, a: 0.30, c: 0.60},
			},
			analysis.ActionBlock: {
				n: {n: 0.85, s: 0.10, a: 0.05, c: 0.00},
				s: {n: 0.50, s: 0.40, a: 0.08, c: 0.02},
				a: {n: 0.30, s: 0.40, a: 0.25, c: 0.05},
				c: {n: 0.05, s: 0.25, a: 0.40, c: 0.30},
			},
			analysis.ActionIsolate: {
				n: {n: 0.80, s: 0.15, a: 0.05, c: 0.00},
				s: {n: 0.55, s: 0.35, a: 0.08, c: 0.02},
				a: {n: 0.35, s: 0.40, a: 0.20, c: 0.05},
				c: {n: 0.20, s: 0.35, a: 0.30, c: 0.15},
			},
		},
		Rewards: map[analysis.SecurityState]map[analysis.Action]float64{
			n: {
				analysis.ActionAllow:       10,
				analysis.ActionAlert:       5,
				analysis.ActionInvestigate: 0,
				analysis.ActionBlock:       -10,
				analysis.ActionIsolate:     -20,
			},
			s: {
				analysis.ActionAllow:       -10,
				analysis.ActionAlert:       0,
				analysis.ActionInvestigate: 5,
				analysis.ActionBlock:       -5,
				analysis.ActionIsolate:     -15,
			},
			a: {
				analysis.ActionAllow:       -80,
				analysis.ActionAlert:       -40,
				analysis.ActionInvestigate: -20,
				analysis.ActionBlock:       -5,
				analysis.ActionIsolate:     -10,
			},
			c: {
				analysis.ActionAllow:       -150,
				analysis.ActionAlert:       -100,
				analysis.ActionInvestigate: -60,
				analysis.ActionBlock:       -40,
				analysis.ActionIsolate:     -20,
			},
		},
	}
}
