// pkg/analyzers/repoactivity/analyzer.go
//
// Heuristic risk scoring for repository activity: pushes, clones and branch
// operations. Each heuristic that fires contributes a weight and a named
// risk factor; the sum (capped at 1) drives the recommendation.
package repoactivity

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lucid-vigil/aegis/pkg/analysis"
	"github.com/lucid-vigil/aegis/pkg/events"
)

// Heuristic weights.
const (
	weightOffHours         = 0.25
	weightBulkPush         = 0.20
	weightSensitivePaths   = 0.30
	weightForcePush        = 0.30
	weightExternalClone    = 0.15
	weightOddBranchName    = 0.10
	weightShortLivedBranch = 0.20
)

// bulkPushThreshold is the commit count above which a single push is
// considered bulk activity.
const bulkPushThreshold = 10

// sensitivePathPatterns match files whose modification warrants scrutiny
// regardless of who touched them.
var sensitivePathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^security/`),
	regexp.MustCompile(`^auth/`),
	regexp.MustCompile(`^config/`),
	regexp.MustCompile(`(?i)password`),
	regexp.MustCompile(`(?i)secret`),
	regexp.MustCompile(`(?i)credential`),
	regexp.MustCompile(`(?i)\.key$`),
	regexp.MustCompile(`(?i)\.pem$`),
}

// oddBranchNames are branch names commonly used to slip changes past
// review.
var oddBranchNames = []string{"temp", "test", "fix", "quick", "hidden", "private"}

// Working hours in the repository's local time. Activity outside this
// window scores as off-hours.
const (
	workDayStart = 7  // inclusive
	workDayEnd   = 20 // exclusive
)

// Analyzer scores repository activity events.
type Analyzer struct {
	logger zerolog.Logger
}

// NewAnalyzer creates a repository-activity analyzer.
func NewAnalyzer(logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		logger: logger.With().Str("component", "repoactivity_analyzer").Logger(),
	}
}

// Analyze scores one repository event. It never fails: an event with no
// recognizable risk signals simply scores zero.
func (a *Analyzer) Analyze(event events.Event) (analysis.AnalysisResult, error) {
	risk := 0.0
	var factors []string

	hour := event.Timestamp.Hour()
	if hour < workDayStart || hour >= workDayEnd {
		risk += weightOffHours
		factors = append(factors, fmt.Sprintf("off_hours_activity (hour %d)", hour))
	}

	activity := strings.ToLower(event.AttrOr("activity", ""))

	if activity == "push" || activity == "force_push" {
		if count, err := strconv.Atoi(event.AttrOr("commit_count", "0")); err == nil && count > bulkPushThreshold {
			risk += weightBulkPush
			factors = append(factors, fmt.Sprintf("bulk_push (%d commits)", count))
		}
	}
	if activity == "force_push" || event.AttrOr("forced", "") == "true" {
		risk += weightForcePush
		factors = append(factors, "force_push")
	}

	if sensitive := sensitiveFiles(event); len(sensitive) > 0 {
		risk += weightSensitivePaths
		factors = append(factors, "sensitive_paths_touched ("+strings.Join(sensitive, ", ")+")")
	}

	if activity == "clone" && isExternalAddr(event.AttrOr("source_ip", "")) {
		risk += weightExternalClone
		factors = append(factors, "external_clone ("+event.AttrOr("source_ip", "")+")")
	}

	if branch := event.AttrOr("branch", ""); branch != "" && isOddBranchName(branch) {
		risk += weightOddBranchName
		factors = append(factors, "suspicious_branch_name ("+branch+")")
	}

	if lifetime := branchLifetime(event); activity == "branch_delete" && lifetime > 0 && lifetime < time.Hour {
		risk += weightShortLivedBranch
		factors = append(factors, fmt.Sprintf("short_lived_branch (%s)", lifetime.Round(time.Second)))
	}

	if risk > 1 {
		risk = 1
	}

	a.logger.Debug().
		Str("repo", event.AttrOr("repo", "")).
		Str("user", event.AttrOr("user", "")).
		Str("activity", activity).
		Float64("risk", risk).
		Strs("factors", factors).
		Msg("Repository activity scored")

	return analysis.AnalysisResult{
		ID:                uuid.NewString(),
		EventID:           event.ID,
		Timestamp:         time.Now(),
		Provenance:        analysis.ProvenanceRepoActivity,
		RecommendedAction: actionForRisk(risk),
		RiskFactors:       factors,
	}, nil
}

// actionForRisk maps the accumulated risk onto the response ladder.
func actionForRisk(risk float64) analysis.Action {
	switch {
	case risk > 0.7:
		return analysis.ActionInvestigate
	case risk > 0.3:
		return analysis.ActionAlert
	default:
		return analysis.ActionAllow
	}
}

// sensitiveFiles returns the event's touched files that match a sensitive
// path pattern. Files travel in the payload as a string slice.
func sensitiveFiles(event events.Event) []string {
	raw, ok := event.PayloadValue("files")
	if !ok {
		return nil
	}

	var files []string
	switch v := raw.(type) {
	case []string:
		files = v
	case []interface{}:
		for _, f := range v {
			if s, ok := f.(string); ok {
				files = append(files, s)
			}
		}
	default:
		return nil
	}

	var sensitive []string
	for _, file := range files {
		for _, pattern := range sensitivePathPatterns {
			if pattern.MatchString(file) {
				sensitive = append(sensitive, file)
				break
			}
		}
	}
	return sensitive
}

// isExternalAddr reports whether the address is a routable, non-private IP.
// Unparseable addresses are treated as internal rather than inventing risk.
func isExternalAddr(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	return !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() && !ip.IsUnspecified()
}

// isOddBranchName matches exact names and prefixed variants like "temp-2".
func isOddBranchName(branch string) bool {
	lower := strings.ToLower(branch)
	for _, name := range oddBranchNames {
		if lower == name || strings.HasPrefix(lower, name+"-") || strings.HasPrefix(lower, name+"_") || strings.HasPrefix(lower, name+"/") {
			return true
		}
	}
	return false
}

// branchLifetime reads the branch's age at deletion from the attributes,
// accepting either a Go duration string or whole seconds.
func branchLifetime(event events.Event) time.Duration {
	raw := event.AttrOr("branch_lifetime", "")
	if raw == "" {
		return 0
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}
