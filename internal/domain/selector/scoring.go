package selector

import (
	"sort"

	"github.com/meigsy/shift-sub001/internal/domain/model"
)

// Suppression defaults.
const (
	DefaultSuppressionMinShown  = 5
	DefaultSuppressionAnnoyance = 0.7
	suppressedScore             = -1.0
)

// SuppressionPolicy hard-excludes surfaces with sustained negative feedback.
type SuppressionPolicy struct {
	// MinShown guards against suppressing on tiny samples.
	MinShown int
	// AnnoyanceThreshold is the annoyance_rate above which a surface is suppressed.
	AnnoyanceThreshold float64
}

// DefaultSuppressionPolicy suppresses at shown >= 5 and annoyance > 0.7.
func DefaultSuppressionPolicy() SuppressionPolicy {
	return SuppressionPolicy{MinShown: DefaultSuppressionMinShown, AnnoyanceThreshold: DefaultSuppressionAnnoyance}
}

// Suppressed reports whether pref triggers hard suppression.
func (p SuppressionPolicy) Suppressed(pref model.SurfacePreference) bool {
	return pref.ShownCount >= p.MinShown && pref.AnnoyanceRate > p.AnnoyanceThreshold
}

// FinalScore is -1 for a suppressed surface and the preference score otherwise.
func (p SuppressionPolicy) FinalScore(pref model.SurfacePreference) float64 {
	if p.Suppressed(pref) {
		return suppressedScore
	}
	return pref.PreferenceScore
}

// Scored is a candidate with the preference it was scored against.
type Scored struct {
	Entry      model.CatalogEntry      `json:"entry"`
	Preference model.SurfacePreference `json:"preference"`
	FinalScore float64                 `json:"final_score"`
	Suppressed bool                    `json:"suppressed"`
}

// Eligible drops candidates with a negative final score.
func Eligible(scored []Scored) []Scored {
	out := make([]Scored, 0, len(scored))
	for _, s := range scored {
		if s.FinalScore < 0 {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Rank orders candidates by final score descending, then catalog key
// ascending. The first element is the winner.
func Rank(scored []Scored) []Scored {
	out := append([]Scored(nil), scored...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FinalScore != out[j].FinalScore {
			return out[i].FinalScore > out[j].FinalScore
		}
		return out[i].Entry.Key < out[j].Entry.Key
	})
	return out
}
