// pkg/analyzers/bayes/table.go
package bayes

import (
	"fmt"
	"sync"

	"github.com/lucid-vigil/aegis/pkg/errors"
)

// Likelihood is one row of the feature-likelihood table: the probability of
// observing a feature given the malicious and the benign hypothesis.
type Likelihood struct {
	Malicious float64 `json:"malicious" mapstructure:"malicious"`
	Benign    float64 `json:"benign" mapstructure:"benign"`
}

// entry keeps the seeded likelihoods plus the labeled-outcome counts that
// refine them over time.
type entry struct {
	likelihood     Likelihood
	maliciousSeen  int64
	benignSeen     int64
	learnedRefresh bool
}

// Table is the shared feature-likelihood table. It is read on every score
// and mutated only by Learn (single-writer discipline via the mutex), so
// likelihood rows stay valid probability distributions under concurrency.
type Table struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	smoothing float64
	// label totals for Laplace-smoothed re-estimation from outcomes
	maliciousTotal int64
	benignTotal    int64
}

// NewTable creates a likelihood table with the given Laplace smoothing
// factor and seed likelihoods. Seeds are validated up front: a feature whose
// branches are both zero after smoothing is a configuration error, because
// it would force every posterior through that feature to exactly 0 or 1.
func NewTable(smoothing float64, seeds map[string]Likelihood) (*Table, error) {
	if smoothing < 0 {
		return nil, errors.NewConfigError("bayes_table", fmt.Errorf("smoothing factor must be non-negative, got %g", smoothing), nil)
	}

	t := &Table{
		entries:   make(map[string]*entry, len(seeds)),
		smoothing: smoothing,
	}
	for feature, lik := range seeds {
		if err := t.validate(feature, lik); err != nil {
			return nil, err
		}
		t.entries[feature] = &entry{likelihood: lik}
	}
	return t, nil
}

func (t *Table) validate(feature string, lik Likelihood) error {
	if lik.Malicious < 0 || lik.Malicious > 1 || lik.Benign < 0 || lik.Benign > 1 {
		return errors.NewConfigError("bayes_table",
			fmt.Errorf("likelihoods for feature %q must be probabilities in [0,1]", feature),
			map[string]interface{}{"malicious": lik.Malicious, "benign": lik.Benign})
	}
	if t.smoothed(lik.Malicious) == 0 && t.smoothed(lik.Benign) == 0 {
		return errors.NewDegenerateLikelihoodError("bayes_table", feature)
	}
	return nil
}

// smoothed floors a probability with the smoothing prior so that no
// observed feature can contribute an exact zero likelihood.
func (t *Table) smoothed(p float64) float64 {
	floor := t.smoothing / (1 + 2*t.smoothing)
	if p < floor {
		return floor
	}
	return p
}

// Lookup returns the smoothed likelihood branches for a feature. Features
// absent from the table fall back to the uninformative pair (0.5, 0.5): a
// likelihood ratio of 1 leaves the posterior untouched.
func (t *Table) Lookup(feature string) (malicious, benign float64, err error) {
	t.mu.RLock()
	e, ok := t.entries[feature]
	var lik Likelihood
	if ok {
		// Copy the row while still holding the lock; Learn rewrites these
		// fields in place under the write lock.
		lik = e.likelihood
	}
	t.mu.RUnlock()

	if !ok {
		return 0.5, 0.5, nil
	}

	malicious = t.smoothed(lik.Malicious)
	benign = t.smoothed(lik.Benign)
	if malicious == 0 && benign == 0 {
		return 0, 0, errors.NewDegenerateLikelihoodError("bayes_table", feature)
	}
	return malicious, benign, nil
}

// Learn folds one labeled outcome into the table: the feature was observed
// on an event later confirmed malicious or benign. Likelihoods are
// re-estimated with Laplace smoothing from the accumulated counts, so rows
// remain valid distributions after every update.
func (t *Table) Learn(feature string, malicious bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if malicious {
		t.maliciousTotal++
	} else {
		t.benignTotal++
	}

	e, ok := t.entries[feature]
	if !ok {
		e = &entry{}
		t.entries[feature] = e
	}
	if malicious {
		e.maliciousSeen++
	} else {
		e.benignSeen++
	}
	e.learnedRefresh = true

	// Laplace add-alpha estimate over presence/absence of the feature.
	alpha := t.smoothing
	if alpha == 0 {
		alpha = 1
	}
	e.likelihood.Malicious = (float64(e.maliciousSeen) + alpha) / (float64(t.maliciousTotal) + 2*alpha)
	e.likelihood.Benign = (float64(e.benignSeen) + alpha) / (float64(t.benignTotal) + 2*alpha)
}

// Snapshot returns a copy of the current likelihood rows, mainly for
// diagnostics and tests.
func (t *Table) Snapshot() map[string]Likelihood {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Likelihood, len(t.entries))
	for feature, e := range t.entries {
		out[feature] = e.likelihood
	}
	return out
}
