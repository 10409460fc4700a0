// pkg/analysis/types.go
package analysis

import (
	"fmt"
	"time"
)

// Action is a recommended security response, ordered by severity.
// The ordering is load-bearing: fusion across analyzers picks the most
// severe recommendation, so Allow < Alert < Investigate < Block < Isolate.
type Action int

const (
	ActionAllow Action = iota
	ActionAlert
	ActionInvestigate
	ActionBlock
	ActionIsolate
)

var actionNames = map[Action]string{
	ActionAllow:       "allow",
	ActionAlert:       "alert",
	ActionInvestigate: "investigate",
	ActionBlock:       "block",
	ActionIsolate:     "isolate",
}

// String returns the lowercase name of the action.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// MarshalText implements encoding.TextMarshaler so actions serialize by name.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAction maps an action name back to its Action value.
func ParseAction(name string) (Action, error) {
	for action, n := range actionNames {
		if n == name {
			return action, nil
		}
	}
	return ActionAllow, fmt.Errorf("unknown action: %q", name)
}

// Actions returns all actions in ascending severity order.
func Actions() []Action {
	return []Action{ActionAllow, ActionAlert, ActionInvestigate, ActionBlock, ActionIsolate}
}

// SecurityState is the assessed security posture of a monitored scope.
// States are ordered by escalation: Normal < Suspicious < UnderAttack < Compromised.
type SecurityState int

const (
	StateNormal SecurityState = iota
	StateSuspicious
	StateUnderAttack
	StateCompromised
)

var stateNames = map[SecurityState]string{
	StateNormal:      "normal",
	StateSuspicious:  "suspicious",
	StateUnderAttack: "under_attack",
	StateCompromised: "compromised",
}

// String returns the lowercase name of the state.
func (s SecurityState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s SecurityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SecurityState) UnmarshalText(text []byte) error {
	for state, n := range stateNames {
		if n == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown security state: %q", string(text))
}

// States returns all security states in escalation order.
func States() []SecurityState {
	return []SecurityState{StateNormal, StateSuspicious, StateUnderAttack, StateCompromised}
}

// FeatureEvidence records how a single observed feature moved the posterior.
// Keeping the per-feature contributions makes belief updates auditable
// instead of an opaque recomputed number.
type FeatureEvidence struct {
	Feature      string  `json:"feature"`
	LogMalicious float64 `json:"log_malicious"`
	LogBenign    float64 `json:"log_benign"`
}

// ThreatBelief is the Bayesian scorer's output: the probability that the
// event is malicious, before and after folding in the observed features.
type ThreatBelief struct {
	Prior      float64           `json:"prior"`
	Posterior  float64           `json:"posterior"`
	Confidence float64           `json:"confidence"`
	Evidence   []FeatureEvidence `json:"evidence,omitempty"`
}

// ImpactedService is one downstream service reached from the impact origin.
type ImpactedService struct {
	ID          string  `json:"id"`
	Depth       int     `json:"depth"`
	Criticality float64 `json:"criticality"`
}

// ImpactReport describes the downstream blast radius of a change to one service.
type ImpactReport struct {
	Origin   string            `json:"origin"`
	Impacted []ImpactedService `json:"impacted"`
	Score    float64           `json:"score"`
	Severity string            `json:"severity"` // critical, high, medium, low
}

// Policy maps every security state to the action with maximum expected
// utility. Policies are derived by value iteration, never hand-authored.
type Policy struct {
	Actions     map[SecurityState]Action  `json:"actions"`
	Values      map[SecurityState]float64 `json:"values"`
	Iterations  int                       `json:"iterations"`
	Unconverged bool                      `json:"unconverged"`
}

// ActionFor returns the policy's action for a state. States absent from the
// table (which would indicate a construction bug) fall back to Alert.
func (p *Policy) ActionFor(state SecurityState) Action {
	if action, ok := p.Actions[state]; ok {
		return action
	}
	return ActionAlert
}

// Provenance identifies which analyzer produced a result.
type Provenance string

const (
	ProvenanceBayes        Provenance = "bayes"
	ProvenancePolicy       Provenance = "policy"
	ProvenanceImpact       Provenance = "impact"
	ProvenanceRepoActivity Provenance = "repo_activity"
	ProvenanceFallback     Provenance = "fallback"
)

// AnalysisResult is the record the agent emits for every processed event.
// Provenance names the analyzer whose recommendation won fusion; the
// optional payload fields carry whatever the fired analyzers produced.
type AnalysisResult struct {
	ID                string         `json:"id"`
	EventID           string         `json:"event_id"`
	Timestamp         time.Time      `json:"timestamp"`
	Provenance        Provenance     `json:"provenance"`
	RecommendedAction Action         `json:"recommended_action"`
	State             *SecurityState `json:"state,omitempty"`
	Belief            *ThreatBelief  `json:"belief,omitempty"`
	Impact            *ImpactReport  `json:"impact,omitempty"`
	RiskFactors       []string       `json:"risk_factors,omitempty"`
}
