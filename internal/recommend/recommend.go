package recommend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chanuka/conflict-engine/internal/domain"
	"github.com/chanuka/conflict-engine/internal/score"
)

// Engine maps scored conflicts to action tiers and renders the audit
// justification. Both operations are pure and deterministic: the same inputs
// always yield the same tier and the same text.
type Engine struct {
	thresholds score.Thresholds
}

// New constructs an Engine around an explicit threshold table.
func New(thresholds score.Thresholds) *Engine {
	return &Engine{thresholds: thresholds}
}

// Recommend buckets a (severity, confidence) pair. Escalation requires both
// high severity and enough confidence; the lower tiers key on severity alone.
func (e *Engine) Recommend(severity, confidence float64) domain.Tier {
	t := e.thresholds
	switch {
	case severity >= t.EscalateSeverity && confidence >= t.EscalateConfidence:
		return domain.TierEscalate
	case severity >= t.FlagSeverity:
		return domain.TierFlag
	case severity >= t.MonitorSeverity:
		return domain.TierMonitor
	default:
		return domain.TierNone
	}
}

// topFactors is how many contributing factors the justification enumerates.
const topFactors = 3

// Justify renders the human-readable explanation for a detection. The text is
// template-based so audit trails are reproducible; factors are listed by
// weight descending.
func (e *Engine) Justify(tier domain.Tier, severity, confidence float64, factors []domain.Factor) string {
	ordered := append([]domain.Factor(nil), factors...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Weight != ordered[j].Weight {
			return ordered[i].Weight > ordered[j].Weight
		}
		return ordered[i].Name < ordered[j].Name
	})
	if len(ordered) > topFactors {
		ordered = ordered[:topFactors]
	}

	parts := make([]string, 0, len(ordered))
	for _, f := range ordered {
		parts = append(parts, fmt.Sprintf("%s=%.2f (weight %.2f)", f.Name, f.Value, f.Weight))
	}

	return fmt.Sprintf("%s: severity %.2f, confidence %.4f; contributing factors: %s",
		tier, severity, confidence, strings.Join(parts, ", "))
}
