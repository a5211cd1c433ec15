package autoswitch

import (
	"time"

	"github.com/foldline/worklog-mcp/internal/store"
)

// ScoringPolicy holds the confidence constants the evaluator applies.
// The values are part of the behavioral contract: confidence
// thresholds are tuned against them, so changing one changes which
// signals trigger a switch.
type ScoringPolicy struct {
	// FreshnessWindow bounds how recently an exact-path candidate must
	// have been active to reactivate it at full confidence.
	FreshnessWindow time.Duration

	// NameMatchBase is the starting confidence for a project-name
	// match.
	NameMatchBase float64

	// RecencyBonusMax is the bonus a name match earns when its last
	// activity is now; it decays linearly to zero at RecencyHorizon.
	RecencyBonusMax float64

	// RecencyHorizon is the age at which the recency bonus reaches
	// zero.
	RecencyHorizon time.Duration

	// RepoMatchBonus is added when both the signal and the candidate
	// carry the same repository id.
	RepoMatchBonus float64
}

// DefaultScoringPolicy returns the scoring constants the engine ships
// with.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		FreshnessWindow: 30 * time.Minute,
		NameMatchBase:   0.6,
		RecencyBonusMax: 0.3,
		RecencyHorizon:  24 * time.Hour,
		RepoMatchBonus:  0.2,
	}
}

// Score turns a candidate list into an evaluation. Candidates must be
// ordered most-recently-active first, as FindSessions returns them; an
// exact-path match with fresh activity beats any name match, and the
// fallback is always creating a new session (creating is safe relative
// to guessing the wrong existing one).
func (p ScoringPolicy) Score(sig ContextSignal, candidates []*store.Session, now time.Time) *Evaluation {
	var nameMatch *store.Session

	for _, candidate := range candidates {
		if candidate.ProjectPath == sig.Path && now.Sub(candidate.LastActivityAt) <= p.FreshnessWindow {
			return &Evaluation{
				Decision:        DecisionReactivate,
				Confidence:      1.0,
				Reasons:         []string{"exact path match, recent activity"},
				TargetSessionID: candidate.ID,
				Signal:          sig,
			}
		}
		if nameMatch == nil && sig.ProjectName != "" && candidate.ProjectName == sig.ProjectName {
			nameMatch = candidate
		}
	}

	if nameMatch != nil {
		confidence := p.NameMatchBase
		reasons := []string{"project name match"}

		if bonus := p.recencyBonus(now.Sub(nameMatch.LastActivityAt)); bonus > 0 {
			confidence += bonus
			reasons = append(reasons, "recent activity bonus")
		}
		if sig.RepositoryID != "" && nameMatch.RepositoryID == sig.RepositoryID {
			confidence += p.RepoMatchBonus
			reasons = append(reasons, "repository id match")
		}
		if confidence > 1.0 {
			confidence = 1.0
		}

		return &Evaluation{
			Decision:        DecisionReactivate,
			Confidence:      confidence,
			Reasons:         reasons,
			TargetSessionID: nameMatch.ID,
			Signal:          sig,
		}
	}

	return &Evaluation{
		Decision:   DecisionCreateNew,
		Confidence: 1.0,
		Reasons:    []string{"no matching session"},
		Signal:     sig,
	}
}

// recencyBonus decays linearly from RecencyBonusMax at age zero to
// nothing at RecencyHorizon.
func (p ScoringPolicy) recencyBonus(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	if age >= p.RecencyHorizon {
		return 0
	}
	return p.RecencyBonusMax * (1 - float64(age)/float64(p.RecencyHorizon))
}
