package impact

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/aegis/pkg/analysis"
	"github.com/lucid-vigil/aegis/pkg/errors"
	"github.com/lucid-vigil/aegis/pkg/events"
)

// chainGraph builds auth -> api -> web, auth -> billing.
func chainGraph() *Graph {
	g := NewGraph()
	g.AddDependency("auth", "api")
	g.AddDependency("api", "web")
	g.AddDependency("auth", "billing")
	return g
}

func TestImpactOfChain(t *testing.T) {
	g := chainGraph()

	report, err := g.ImpactOf("auth")
	require.NoError(t, err)

	assert.Equal(t, "auth", report.Origin)
	require.Len(t, report.Impacted, 3)

	byID := make(map[string]analysis.ImpactedService)
	for _, svc := range report.Impacted {
		byID[svc.ID] = svc
	}
	assert.Equal(t, 1, byID["api"].Depth)
	assert.Equal(t, 2, byID["web"].Depth)
	assert.Equal(t, 1, byID["billing"].Depth)
	assert.Greater(t, report.Score, 0.0)
}

func TestImpactOfLeafIsEmptyAndValid(t *testing.T) {
	g := chainGraph()

	report, err := g.ImpactOf("web")
	require.NoError(t, err)
	assert.Equal(t, "web", report.Origin)
	assert.Empty(t, report.Impacted)
	assert.Equal(t, 0.0, report.Score)
	assert.Equal(t, "low", report.Severity)
}

func TestImpactOfUnknownService(t *testing.T) {
	g := chainGraph()

	_, err := g.ImpactOf("ghost")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnknownNode))

	// The failed query must not register the node.
	assert.False(t, g.Has("ghost"))
}

func TestImpactOfCyclicGraphTerminates(t *testing.T) {
	// a -> b -> c -> d with a back edge d -> b.
	g := NewGraph()
	g.AddDependency("a", "b")
	g.AddDependency("b", "c")
	g.AddDependency("c", "d")
	g.AddDependency("d", "b")

	report, err := g.ImpactOf("a")
	require.NoError(t, err)
	require.Len(t, report.Impacted, 3)

	seen := make(map[string]int)
	for _, svc := range report.Impacted {
		seen[svc.ID]++
	}
	// Each service reported exactly once despite the cycle.
	assert.Equal(t, map[string]int{"b": 1, "c": 1, "d": 1}, seen)

	// Starting inside the cycle also terminates, and the origin itself is
	// not reported even though the cycle returns to it.
	report, err = g.ImpactOf("b")
	require.NoError(t, err)
	for _, svc := range report.Impacted {
		assert.NotEqual(t, "b", svc.ID)
	}
}

func TestCriticalityMonotoneInReach(t *testing.T) {
	g := chainGraph()

	auth, err := g.Criticality("auth") // reaches api, web, billing
	require.NoError(t, err)
	api, err := g.Criticality("api") // reaches web
	require.NoError(t, err)
	web, err := g.Criticality("web") // leaf
	require.NoError(t, err)

	assert.Greater(t, auth, api)
	assert.Greater(t, api, web)
	assert.Equal(t, 1.0, web)
}

func TestSeverityLadder(t *testing.T) {
	assert.Equal(t, "low", severityForScore(0))
	assert.Equal(t, "low", severityForScore(1.9))
	assert.Equal(t, "medium", severityForScore(2))
	assert.Equal(t, "high", severityForScore(5))
	assert.Equal(t, "critical", severityForScore(8))
	assert.Equal(t, "critical", severityForScore(10))
}

func TestDuplicateEdgesAreDropped(t *testing.T) {
	g := NewGraph()
	g.AddDependency("auth", "api")
	g.AddDependency("auth", "api")

	report, err := g.ImpactOf("auth")
	require.NoError(t, err)
	assert.Len(t, report.Impacted, 1)
}

func TestAnalyzerProducesImpactResult(t *testing.T) {
	analyzer := NewAnalyzer(chainGraph(), zerolog.Nop())

	event := events.New("", events.KindServiceChange, "test", time.Now(), map[string]string{
		"service": "auth",
	}, nil)

	result, err := analyzer.Analyze(event)
	require.NoError(t, err)
	assert.Equal(t, analysis.ProvenanceImpact, result.Provenance)
	assert.Equal(t, event.ID, result.EventID)
	require.NotNil(t, result.Impact)
	assert.Equal(t, "auth", result.Impact.Origin)
	assert.NotEmpty(t, result.ID)
}

func TestAnalyzerRejectsUnknownService(t *testing.T) {
	analyzer := NewAnalyzer(chainGraph(), zerolog.Nop())

	event := events.New("", events.KindServiceChange, "test", time.Now(), map[string]string{
		"service": "ghost",
	}, nil)

	_, err := analyzer.Analyze(event)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnknownNode))
}
