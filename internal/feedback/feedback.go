// Package feedback renders counter cues and form mistakes as user-facing text.
// Translations are embedded YAML files loaded into a go-i18n bundle.
package feedback

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/formtrack/internal/exercise"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Catalog holds every loaded translation. It is safe for concurrent use.
type Catalog struct {
	bundle   *i18n.Bundle
	fallback string
}

// NewCatalog parses the embedded locale files. fallback is the language used
// when a request names none of the available ones.
func NewCatalog(fallback string) (*Catalog, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile(path.Join("locales", f.Name()))
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", f.Name(), err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, f.Name()); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", f.Name(), err)
		}
	}

	if fallback == "" {
		fallback = "en"
	}
	return &Catalog{bundle: bundle, fallback: fallback}, nil
}

// Languages lists the loaded language tags.
func (c *Catalog) Languages() []string {
	tags := c.bundle.LanguageTags()
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

// For returns a Localizer for the given preferences, typically the raw
// Accept-Language header. Unknown languages fall back to the catalog default
// and then to English.
func (c *Catalog) For(langs ...string) *Localizer {
	prefs := make([]string, 0, len(langs)+2)
	for _, l := range langs {
		if l != "" {
			prefs = append(prefs, l)
		}
	}
	prefs = append(prefs, c.fallback, "en")
	return &Localizer{l: i18n.NewLocalizer(c.bundle, prefs...)}
}

// Localizer translates message ids for one set of language preferences.
type Localizer struct {
	l *i18n.Localizer
}

// T translates a message id. Missing ids come back unchanged.
func (l *Localizer) T(messageID string) string {
	if l == nil || l.l == nil {
		return messageID
	}
	msg, err := l.l.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil {
		return messageID
	}
	return msg
}

// Feedback renders a per-frame cue such as "Fix Form".
func (l *Localizer) Feedback(f exercise.Feedback) string {
	return l.T("feedback." + string(f))
}

// Mistake renders a form-mistake description.
func (l *Localizer) Mistake(m exercise.Mistake) string {
	return l.T("mistake." + string(m))
}

// Mistakes renders a list of mistakes in order.
func (l *Localizer) Mistakes(ms []exercise.Mistake) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = l.Mistake(m)
	}
	return out
}

// Exercise renders the display name for a registry key.
func (l *Localizer) Exercise(key string) string {
	return l.T("exercise." + key)
}
