// Package rule implements the Rule Enhancer (spec §4.4): a pure,
// deterministic, I/O-free fallback that always produces a title and badge
// for a pulse, used whenever the pulse isn't worth a premium model call or
// the Premium Enhancer is unavailable.
package rule

import (
	"strings"

	"pulsecore/internal/pulse"
)

// breakthroughKeywords is the small, closed vocabulary the title template
// checks a reflection against to decide whether to add the keyword suffix.
// Deliberately data, not a scoring model — the rule path only needs a
// single yes/no signal, unlike the Worthiness Scorer's weighted sub-score.
var breakthroughKeywords = []string{
	"realized", "breakthrough", "finally", "clarity", "clicked", "figured out",
}

const (
	shortDurationCeiling  = 10 * 60
	mediumDurationCeiling = 30 * 60
)

// Enhance produces a title and badge for p. It never fails except through a
// panic on a malformed embedded catalogue (spec §4.4: "the only failure is
// a programmer error ... which is fatal").
func Enhance(p *pulse.Pulse, tier pulse.Tier) (genTitle, genBadge string) {
	c := loadCatalogue()

	emotion := strings.ToLower(strings.TrimSpace(p.ReflectionEmotion))
	if emotion == "" {
		emotion = strings.ToLower(strings.TrimSpace(p.IntentEmotion))
	}

	title := titleTextFor(c, emotion)
	title += c.DurationSuffixes[durationBucket(p.EffectiveDurationSeconds)]
	if containsBreakthroughKeyword(p.Reflection) {
		title += c.KeywordSuffix
	}

	badge := badgeFor(c, string(tier), intentClass(p))

	return pulse.Truncate(title), pulse.Truncate(badge)
}

func durationBucket(seconds int) string {
	switch {
	case seconds < shortDurationCeiling:
		return "short"
	case seconds < mediumDurationCeiling:
		return "medium"
	default:
		return "long"
	}
}

// intentClass buckets a pulse into one of the catalogue's badge classes: a
// short, low-effort intent reads as "note"; a substantive reflection reads
// as "reflection"; anything else falls through to the tier's default.
func intentClass(p *pulse.Pulse) string {
	switch {
	case len(strings.TrimSpace(p.Intent)) <= 20 && p.Reflection == "":
		return "note"
	case len(p.Reflection) > 80:
		return "reflection"
	default:
		return "default"
	}
}

func containsBreakthroughKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range breakthroughKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
