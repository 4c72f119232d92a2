package rule

import (
	"embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalogue.yaml
var catalogueFS embed.FS

type catalogue struct {
	TitleTemplates []struct {
		Emotion string `yaml:"emotion"`
		Text    string `yaml:"text"`
	} `yaml:"title_templates"`
	DurationSuffixes map[string]string            `yaml:"duration_suffixes"`
	KeywordSuffix    string                        `yaml:"keyword_suffix"`
	Badges           map[string]map[string]string `yaml:"badges"`
}

var (
	loadOnce sync.Once
	loaded   catalogue
	loadErr  error
)

func loadCatalogue() catalogue {
	loadOnce.Do(func() {
		raw, err := catalogueFS.ReadFile("catalogue.yaml")
		if err != nil {
			loadErr = fmt.Errorf("rule: read catalogue: %w", err)
			return
		}
		if err := yaml.Unmarshal(raw, &loaded); err != nil {
			loadErr = fmt.Errorf("rule: decode catalogue: %w", err)
			return
		}
	})
	if loadErr != nil {
		panic(loadErr)
	}
	return loaded
}

// titleTextFor returns the template text for an emotion tag, falling back to
// the catalogue's "" (neutral) entry. A catalogue with no neutral entry is a
// programmer error and panics — spec §4.4 requires this to be fatal and
// test-visible, never silently degraded.
func titleTextFor(c catalogue, emotion string) string {
	var fallback string
	haveFallback := false
	for _, t := range c.TitleTemplates {
		if t.Emotion == emotion {
			return t.Text
		}
		if t.Emotion == "" {
			fallback = t.Text
			haveFallback = true
		}
	}
	if !haveFallback {
		panic(fmt.Sprintf("rule: catalogue has no neutral (\"\") title template to fall back to for emotion %q", emotion))
	}
	return fallback
}

// badgeFor returns the badge for a tier and intent class, falling back to
// the tier's "default" entry. A tier missing from the catalogue, or missing
// its default entry, is a programmer error and panics.
func badgeFor(c catalogue, tier, intentClass string) string {
	tierBadges, ok := c.Badges[tier]
	if !ok {
		panic(fmt.Sprintf("rule: catalogue has no badge table for tier %q", tier))
	}
	if badge, ok := tierBadges[intentClass]; ok {
		return badge
	}
	badge, ok := tierBadges["default"]
	if !ok {
		panic(fmt.Sprintf("rule: catalogue's %q tier has no default badge", tier))
	}
	return badge
}
