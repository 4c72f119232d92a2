package premium

import (
	"encoding/json"
	"fmt"
	"strings"
)

type parsedInsights struct {
	GenTitle          string `json:"gen_title"`
	GenBadge          string `json:"gen_badge"`
	ProductivityScore int    `json:"productivity_score"`
	KeyInsight        string `json:"key_insight"`
	NextSuggestion    string `json:"next_suggestion"`
	MoodAssessment    string `json:"mood_assessment"`
	EmotionPattern    string `json:"emotion_pattern"`
}

// parseModelContent decodes a model's raw text response into the expected
// structured shape. If the model wrapped the JSON in surrounding prose (or a
// code fence), one repair pass strips everything outside the outermost
// braces and retries. A response that still doesn't parse after that is
// permanently malformed — the caller treats this as a reason to advance to
// the next candidate model rather than retry the same one.
func parseModelContent(content string) (parsedInsights, error) {
	var out parsedInsights
	if err := json.Unmarshal([]byte(content), &out); err == nil {
		return out, nil
	}

	repaired, ok := stripSurroundingText(content)
	if !ok {
		return parsedInsights{}, fmt.Errorf("premium: response has no JSON object")
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return parsedInsights{}, fmt.Errorf("premium: malformed response after repair pass: %w", err)
	}
	return out, nil
}

func stripSurroundingText(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
