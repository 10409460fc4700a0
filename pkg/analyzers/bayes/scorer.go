// pkg/analyzers/bayes/scorer.go
//
// Naive-Bayes threat scoring. Each event feature is treated as
// conditionally independent evidence given the "malicious" hypothesis; the
// joint likelihood is the product of the per-feature likelihoods. That
// independence assumption is a deliberate design choice: it keeps the table
// one row per feature and makes the posterior invariant to the order the
// features are folded in.
package bayes

import (
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lucid-vigil/aegis/pkg/analysis"
	"github.com/lucid-vigil/aegis/pkg/events"
)

// Scorer computes the posterior probability that an event is malicious.
type Scorer struct {
	table        *Table
	defaultPrior float64
	logger       zerolog.Logger
}

// NewScorer creates a scorer over the shared likelihood table.
func NewScorer(table *Table, defaultPrior float64, logger zerolog.Logger) *Scorer {
	return &Scorer{
		table:        table,
		defaultPrior: defaultPrior,
		logger:       logger.With().Str("component", "bayes_scorer").Logger(),
	}
}

// DefaultPrior returns the configured prior used when the caller has no
// better belief to start from.
func (s *Scorer) DefaultPrior() float64 {
	return s.defaultPrior
}

// Score computes the posterior for an event given a prior belief.
func (s *Scorer) Score(event events.Event, prior float64) (analysis.ThreatBelief, error) {
	return s.ScoreFeatures(evidenceKeys(event), prior)
}

// Learn folds one labeled outcome into the likelihood table: the event
// carrying these features was later confirmed malicious or benign.
func (s *Scorer) Learn(event events.Event, malicious bool) {
	for _, feature := range evidenceKeys(event) {
		s.table.Learn(feature, malicious)
	}
	s.logger.Debug().
		Str("event_id", event.ID).
		Bool("malicious", malicious).
		Msg("Labeled outcome learned")
}

// ScoreFeatures folds the given evidence features into the prior. The
// computation runs in log-space: with many features the raw likelihood
// product underflows float64 well before the posterior itself degenerates.
func (s *Scorer) ScoreFeatures(features []string, prior float64) (analysis.ThreatBelief, error) {
	prior = clampProbability(prior)

	logMalicious := math.Log(prior)
	logBenign := math.Log(1 - prior)

	evidence := make([]analysis.FeatureEvidence, 0, len(features))
	for _, feature := range features {
		pm, pb, err := s.table.Lookup(feature)
		if err != nil {
			return analysis.ThreatBelief{}, err
		}
		lm, lb := math.Log(pm), math.Log(pb)
		logMalicious += lm
		logBenign += lb
		evidence = append(evidence, analysis.FeatureEvidence{
			Feature:      feature,
			LogMalicious: lm,
			LogBenign:    lb,
		})
	}

	posterior := posteriorFromLogs(logMalicious, logBenign)

	belief := analysis.ThreatBelief{
		Prior:      prior,
		Posterior:  posterior,
		Confidence: math.Abs(posterior-0.5) * 2,
		Evidence:   evidence,
	}

	s.logger.Debug().
		Float64("prior", prior).
		Float64("posterior", posterior).
		Int("features", len(features)).
		Msg("Threat belief computed")

	return belief, nil
}

// posteriorFromLogs normalizes the two unnormalized log posteriors:
// P(malicious | evidence) = 1 / (1 + exp(logBenign - logMalicious)).
func posteriorFromLogs(logMalicious, logBenign float64) float64 {
	if math.IsInf(logMalicious, -1) && math.IsInf(logBenign, -1) {
		return 0.5
	}
	if math.IsInf(logMalicious, -1) {
		return 0
	}
	if math.IsInf(logBenign, -1) {
		return 1
	}
	return 1 / (1 + math.Exp(logBenign-logMalicious))
}

func clampProbability(p float64) float64 {
	if p < 0 || math.IsNaN(p) {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// evidenceKeys derives the table keys for an event's attributes. Flag-like
// attributes ("true") contribute their bare name; valued attributes
// contribute "name=value" so that distinct categories get distinct rows.
// Attributes explicitly set to a false-ish value are not observed evidence.
func evidenceKeys(event events.Event) []string {
	keys := make([]string, 0, len(event.Features()))
	for _, name := range event.Features() {
		value, _ := event.Attr(name)
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "yes", "1", "":
			keys = append(keys, name)
		case "false", "no", "0":
			// absent evidence
		default:
			keys = append(keys, name+"="+value)
		}
	}
	return keys
}
