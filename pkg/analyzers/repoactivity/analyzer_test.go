package repoactivity

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/aegis/pkg/analysis"
	"github.com/lucid-vigil/aegis/pkg/events"
)

// businessHours is a Tuesday at 14:00 local time.
var businessHours = time.Date(2025, 6, 10, 14, 0, 0, 0, time.Local)

// lateNight is the same Tuesday at 03:00 local time.
var lateNight = time.Date(2025, 6, 10, 3, 0, 0, 0, time.Local)

func repoEvent(ts time.Time, attrs map[string]string, payload map[string]interface{}) events.Event {
	base := map[string]string{
		"repo":     "core-services",
		"user":     "dev1",
		"activity": "push",
	}
	for k, v := range attrs {
		base[k] = v
	}
	return events.New("", events.KindRepoActivity, "git_monitor", ts, base, payload)
}

func TestBenignPushScoresAllow(t *testing.T) {
	analyzer := NewAnalyzer(zerolog.Nop())

	result, err := analyzer.Analyze(repoEvent(businessHours, map[string]string{
		"commit_count": "3",
		"branch":       "feature/login-ui",
	}, nil))
	require.NoError(t, err)

	assert.Equal(t, analysis.ActionAllow, result.RecommendedAction)
	assert.Empty(t, result.RiskFactors)
	assert.Equal(t, analysis.ProvenanceRepoActivity, result.Provenance)
}

func TestOffHoursPushIsFlagged(t *testing.T) {
	analyzer := NewAnalyzer(zerolog.Nop())

	result, err := analyzer.Analyze(repoEvent(lateNight, map[string]string{
		"commit_count": "2",
	}, nil))
	require.NoError(t, err)

	require.Len(t, result.RiskFactors, 1)
	assert.Contains(t, result.RiskFactors[0], "off_hours_activity")
	// A single low-weight factor stays below the alert threshold.
	assert.Equal(t, analysis.ActionAllow, result.RecommendedAction)
}

func TestForcePushOfSensitivePathsEscalates(t *testing.T) {
	analyzer := NewAnalyzer(zerolog.Nop())

	result, err := analyzer.Analyze(repoEvent(lateNight, map[string]string{
		"activity":     "force_push",
		"commit_count": "14",
	}, map[string]interface{}{
		"files": []string{"auth/session.go", "README.md"},
	}))
	require.NoError(t, err)

	// off_hours + bulk_push + force_push + sensitive_paths > 0.7.
	assert.Equal(t, analysis.ActionInvestigate, result.RecommendedAction)

	joined := strings.Join(result.RiskFactors, "\n")
	assert.Contains(t, joined, "off_hours_activity")
	assert.Contains(t, joined, "bulk_push")
	assert.Contains(t, joined, "force_push")
	assert.Contains(t, joined, "sensitive_paths_touched")
	assert.Contains(t, joined, "auth/session.go")
	assert.NotContains(t, joined, "README.md")
}

func TestExternalCloneIsFlaggedInternalIsNot(t *testing.T) {
	analyzer := NewAnalyzer(zerolog.Nop())

	external, err := analyzer.Analyze(repoEvent(businessHours, map[string]string{
		"activity":  "clone",
		"source_ip": "203.0.113.50",
	}, nil))
	require.NoError(t, err)
	require.Len(t, external.RiskFactors, 1)
	assert.Contains(t, external.RiskFactors[0], "external_clone")

	internal, err := analyzer.Analyze(repoEvent(businessHours, map[string]string{
		"activity":  "clone",
		"source_ip": "10.0.4.17",
	}, nil))
	require.NoError(t, err)
	assert.Empty(t, internal.RiskFactors)
}

func TestShortLivedOddlyNamedBranch(t *testing.T) {
	analyzer := NewAnalyzer(zerolog.Nop())

	result, err := analyzer.Analyze(repoEvent(businessHours, map[string]string{
		"activity":        "branch_delete",
		"branch":          "temp-2",
		"branch_lifetime": "25m",
	}, nil))
	require.NoError(t, err)

	joined := strings.Join(result.RiskFactors, "\n")
	assert.Contains(t, joined, "suspicious_branch_name")
	assert.Contains(t, joined, "short_lived_branch")
	require.Len(t, result.RiskFactors, 2)

	// A long-lived branch with a normal name raises nothing.
	quiet, err := analyzer.Analyze(repoEvent(businessHours, map[string]string{
		"activity":        "branch_delete",
		"branch":          "release/2025-06",
		"branch_lifetime": "720h",
	}, nil))
	require.NoError(t, err)
	assert.Empty(t, quiet.RiskFactors)
}

func TestActionForRiskLadder(t *testing.T) {
	assert.Equal(t, analysis.ActionAllow, actionForRisk(0))
	assert.Equal(t, analysis.ActionAllow, actionForRisk(0.3))
	assert.Equal(t, analysis.ActionAlert, actionForRisk(0.31))
	assert.Equal(t, analysis.ActionAlert, actionForRisk(0.7))
	assert.Equal(t, analysis.ActionInvestigate, actionForRisk(0.71))
	assert.Equal(t, analysis.ActionInvestigate, actionForRisk(1))
}

func TestRiskIsCappedAtOne(t *testing.T) {
	analyzer := NewAnalyzer(zerolog.Nop())

	result, err := analyzer.Analyze(repoEvent(lateNight, map[string]string{
		"activity":        "force_push",
		"commit_count":    "40",
		"branch":          "hidden",
		"source_ip":       "198.51.100.7",
		"branch_lifetime": "10m",
	}, map[string]interface{}{
		"files": []interface{}{"config/prod.yaml", "deploy/secrets.env"},
	}))
	require.NoError(t, err)

	assert.Equal(t, analysis.ActionInvestigate, result.RecommendedAction)
	assert.NotEmpty(t, result.RiskFactors)
}
