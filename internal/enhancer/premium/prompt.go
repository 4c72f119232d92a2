package premium

import (
	"encoding/json"

	"pulsecore/internal/pulse"
)

// systemPrompt is the fixed instruction template. It never varies per call;
// only the JSON payload built by buildUserPrompt changes, and that payload
// is produced by json.Marshal so pulse content can never break out of its
// field and alter the instruction structure.
const systemPrompt = `You analyze a single focus/reflection work session, called a pulse, described as a JSON object in the next message. Respond with exactly one JSON object and no other text, of this shape:
{"gen_title": string, "gen_badge": string, "productivity_score": integer from 1 to 10, "key_insight": string, "next_suggestion": string, "mood_assessment": string, "emotion_pattern": string}
gen_title and gen_badge must each be under 200 characters. Do not wrap the JSON in a code fence or add commentary.`

type pulsePayload struct {
	Intent                   string `json:"intent"`
	IntentEmotion            string `json:"intent_emotion,omitempty"`
	Reflection               string `json:"reflection,omitempty"`
	ReflectionEmotion        string `json:"reflection_emotion,omitempty"`
	EffectiveDurationSeconds int    `json:"effective_duration_seconds"`
}

// buildUserPrompt renders p's fields into the fixed JSON shape the model
// expects. Marshal errors are impossible here (every field is a string or
// int) so they're treated as a programmer error.
func buildUserPrompt(p *pulse.Pulse) string {
	payload := pulsePayload{
		Intent:                   p.Intent,
		IntentEmotion:            p.IntentEmotion,
		Reflection:               p.Reflection,
		ReflectionEmotion:        p.ReflectionEmotion,
		EffectiveDurationSeconds: p.EffectiveDurationSeconds,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		panic("premium: marshal pulse payload: " + err.Error())
	}
	return string(b)
}
