package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/aegis/pkg/analysis"
	"github.com/lucid-vigil/aegis/pkg/analyzers/bayes"
	"github.com/lucid-vigil/aegis/pkg/analyzers/impact"
	"github.com/lucid-vigil/aegis/pkg/analyzers/mdp"
	"github.com/lucid-vigil/aegis/pkg/analyzers/repoactivity"
	"github.com/lucid-vigil/aegis/pkg/errors"
	"github.com/lucid-vigil/aegis/pkg/events"
	"github.com/lucid-vigil/aegis/pkg/respond"
)

// memoryStore records saves; when fail is set every save errors.
type memoryStore struct {
	mu    sync.Mutex
	saved []analysis.AnalysisResult
	fail  bool
}

func (m *memoryStore) SaveResult(_ context.Context, result analysis.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("disk full")
	}
	m.saved = append(m.saved, result)
	return nil
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func newTestAgent(t *testing.T, store RecordStore) *Agent {
	t.Helper()

	table, err := bayes.NewTable(0.01, map[string]bayes.Likelihood{
		"failed":              {Malicious: 0.8, Benign: 0.05},
		"username=admin":      {Malicious: 0.6, Benign: 0.3},
		"protocol=ssh":        {Malicious: 0.4, Benign: 0.3},
		"new_source_ip":       {Malicious: 0.7, Benign: 0.1},
		"activity=push":       {Malicious: 0.3, Benign: 0.4},
		"activity=force_push": {Malicious: 0.7, Benign: 0.1},
	})
	require.NoError(t, err)
	scorer := bayes.NewScorer(table, 0.1, zerolog.Nop())

	engine, err := mdp.NewEngine(mdp.DefaultModel(), mdp.DefaultParams(), mdp.DefaultThresholds(), zerolog.Nop())
	require.NoError(t, err)

	graph := impact.NewGraph()
	graph.AddDependency("auth", "api")
	graph.AddDependency("api", "web")
	graph.AddDependency("auth", "billing")

	return New(Config{QueueSize: 16},
		events.NewValidator(1000, 100),
		scorer,
		engine,
		impact.NewAnalyzer(graph, zerolog.Nop()),
		repoactivity.NewAnalyzer(zerolog.Nop()),
		respond.NewDispatcher(true),
		store,
		nil,
		zerolog.Nop(),
	)
}

func loginEvent(attrs map[string]string) events.Event {
	base := map[string]string{
		"username":  "dev1",
		"source_ip": "10.0.0.5",
	}
	for k, v := range attrs {
		base[k] = v
	}
	return events.New("", events.KindLoginAttempt, "auth_sensor", time.Now(), base, nil)
}

func TestProcessBenignLoginAllows(t *testing.T) {
	store := &memoryStore{}
	agent := newTestAgent(t, store)

	action, result, err := agent.Process(context.Background(), loginEvent(nil))
	require.NoError(t, err)

	assert.Equal(t, analysis.ActionAllow, action)
	assert.Equal(t, action, result.RecommendedAction)
	assert.Equal(t, analysis.ProvenancePolicy, result.Provenance)
	require.NotNil(t, result.State)
	assert.Equal(t, analysis.StateNormal, *result.State)
	assert.Equal(t, 1, store.count())
}

func TestProcessSuspiciousLoginEscalates(t *testing.T) {
	agent := newTestAgent(t, &memoryStore{})

	action, result, err := agent.Process(context.Background(), loginEvent(map[string]string{
		"username":      "admin",
		"failed":        "true",
		"new_source_ip": "true",
	}))
	require.NoError(t, err)

	require.NotNil(t, result.Belief)
	assert.Greater(t, result.Belief.Posterior, 0.5)
	assert.Greater(t, action, analysis.ActionAllow)
	assert.Equal(t, action, result.RecommendedAction)
}

func TestProcessServiceChangeRoutesToImpact(t *testing.T) {
	store := &memoryStore{}
	agent := newTestAgent(t, store)

	event := events.New("", events.KindServiceChange, "deploy_sensor", time.Now(), map[string]string{
		"service": "auth",
	}, nil)

	action, result, err := agent.Process(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, analysis.ProvenanceImpact, result.Provenance)
	assert.Equal(t, action, result.RecommendedAction)
	require.NotNil(t, result.Impact)
	assert.Equal(t, "auth", result.Impact.Origin)
	assert.Len(t, result.Impact.Impacted, 3)
}

func TestProcessRejectsInvalidEventWithoutStoring(t *testing.T) {
	store := &memoryStore{}
	agent := newTestAgent(t, store)

	// Missing required source_ip.
	event := events.New("", events.KindLoginAttempt, "auth_sensor", time.Now(), map[string]string{
		"username": "dev1",
	}, nil)

	_, _, err := agent.Process(context.Background(), event)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.Equal(t, 0, store.count())
}

func TestProcessUnroutableKind(t *testing.T) {
	store := &memoryStore{}
	agent := newTestAgent(t, store)

	event := events.New("", events.Kind("dns_query"), "dns_sensor", time.Now(), map[string]string{
		"qname": "example.com",
	}, nil)

	_, _, err := agent.Process(context.Background(), event)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnroutable))
	assert.Equal(t, 0, store.count())

	// The error tells the operator which kinds the router does handle.
	var ae *errors.AnalysisError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, events.Kinds(), ae.Details["known_kinds"])
}

func TestProcessToleratesStorageFailure(t *testing.T) {
	agent := newTestAgent(t, &memoryStore{fail: true})

	action, result, err := agent.Process(context.Background(), loginEvent(nil))
	require.NoError(t, err)
	assert.Equal(t, analysis.ActionAllow, action)
	assert.Equal(t, action, result.RecommendedAction)
}

func TestProcessFallsBackToAlertWhenAnalyzersFail(t *testing.T) {
	store := &memoryStore{}
	agent := newTestAgent(t, store)

	// The only analyzer for service changes rejects unknown services, so
	// the decision degrades to the alert fallback.
	event := events.New("", events.KindServiceChange, "deploy_sensor", time.Now(), map[string]string{
		"service": "ghost",
	}, nil)

	action, result, err := agent.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, analysis.ActionAlert, action)
	assert.Equal(t, action, result.RecommendedAction)
	assert.Equal(t, analysis.ProvenanceFallback, result.Provenance)
	// The fallback decision is still recorded.
	assert.Equal(t, 1, store.count())
}

func TestProcessRepoActivityFusesAnalyzers(t *testing.T) {
	agent := newTestAgent(t, &memoryStore{})

	lateNight := time.Date(2025, 6, 10, 3, 0, 0, 0, time.Local)
	event := events.New("", events.KindRepoActivity, "git_monitor", lateNight, map[string]string{
		"repo":         "core-services",
		"user":         "dev1",
		"activity":     "force_push",
		"commit_count": "14",
	}, map[string]interface{}{
		"files": []string{"auth/session.go"},
	})

	action, result, err := agent.Process(context.Background(), event)
	require.NoError(t, err)

	// The heuristic analyzer's investigate recommendation should win or tie
	// with the policy's; either way the decision escalates past alert.
	assert.GreaterOrEqual(t, action, analysis.ActionInvestigate)
	assert.Equal(t, action, result.RecommendedAction)
	assert.NotEmpty(t, result.RiskFactors)
}

func TestFuseMostSevereWinsAndTiesFollowPriority(t *testing.T) {
	agent := newTestAgent(t, nil)
	event := loginEvent(nil)

	policyState := analysis.StateSuspicious
	policyResult := analysis.AnalysisResult{
		ID: "p", EventID: event.ID, Provenance: analysis.ProvenancePolicy,
		RecommendedAction: analysis.ActionAlert, State: &policyState,
	}
	impactResult := analysis.AnalysisResult{
		ID: "i", EventID: event.ID, Provenance: analysis.ProvenanceImpact,
		RecommendedAction: analysis.ActionBlock,
		Impact:            &analysis.ImpactReport{Origin: "auth", Severity: "critical"},
	}
	repoResult := analysis.AnalysisResult{
		ID: "r", EventID: event.ID, Provenance: analysis.ProvenanceRepoActivity,
		RecommendedAction: analysis.ActionBlock, RiskFactors: []string{"force_push"},
	}

	// Block outranks alert; between the two blocks, impact has priority
	// over the repo heuristics.
	fused := agent.fuse(event, []analysis.AnalysisResult{policyResult, repoResult, impactResult})
	assert.Equal(t, analysis.ActionBlock, fused.RecommendedAction)
	assert.Equal(t, analysis.ProvenanceImpact, fused.Provenance)

	// Evidence from the losing analyzers rides along.
	assert.Equal(t, []string{"force_push"}, fused.RiskFactors)
	require.NotNil(t, fused.State)
	assert.Equal(t, analysis.StateSuspicious, *fused.State)
}

func TestRunSerializesSubmittedEvents(t *testing.T) {
	store := &memoryStore{}
	agent := newTestAgent(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		agent.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, agent.Submit(loginEvent(map[string]string{
			"source_ip": fmt.Sprintf("10.0.0.%d", i+1),
		})))
	}

	assert.Eventually(t, func() bool { return store.count() == 5 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("agent did not stop on context cancellation")
	}
}

func TestSubmitFailsWhenQueueFull(t *testing.T) {
	agent := newTestAgent(t, nil)
	agent.intake = make(chan events.Event, 1)

	require.NoError(t, agent.Submit(loginEvent(nil)))
	err := agent.Submit(loginEvent(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intake queue full")
}
