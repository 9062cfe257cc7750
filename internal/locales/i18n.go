// Package locales embeds the owner-facing message catalogs and wraps
// go-i18n lookup with an English fallback.
package locales

import (
	"embed"
	"encoding/json"
	"log"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed *.json
var localeFS embed.FS

var (
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
)

var localeFiles = []string{"en.json", "ru.json"}

// Init loads the embedded catalogs and records the default language.
// It must be called once before any localizer is created.
func Init(defaultLangCode string) {
	tag, err := language.Parse(defaultLangCode)
	if err != nil {
		log.Printf("[Locales] Invalid default language %q, falling back to English: %v", defaultLangCode, err)
		tag = language.English
	}
	defaultLanguage = tag

	bundle = i18n.NewBundle(defaultLanguage)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, name := range localeFiles {
		if _, err := bundle.LoadMessageFileFS(localeFS, name); err != nil {
			log.Fatalf("[Locales] Failed to load catalog %s: %v", name, err)
		}
	}
	log.Printf("[Locales] Loaded %d catalog(s), default language %s", len(localeFiles), defaultLanguage)
}

// GetDefaultLanguageTag returns the tag configured in Init.
func GetDefaultLanguageTag() language.Tag {
	if bundle == nil {
		log.Panicln("[Locales] GetDefaultLanguageTag called before Init")
	}
	return defaultLanguage
}

// NewLocalizer creates a localizer for the given language preferences.
func NewLocalizer(langPrefs ...string) *i18n.Localizer {
	if bundle == nil {
		log.Panicln("[Locales] NewLocalizer called before Init")
	}
	return i18n.NewLocalizer(bundle, langPrefs...)
}

// GetMessage resolves a message ID with optional template data. Lookup
// failures fall back to English, then to the raw ID so the owner always
// sees something actionable.
func GetMessage(localizer *i18n.Localizer, msgID string, templateData map[string]interface{}) string {
	config := &i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: templateData,
	}

	msg, err := localizer.Localize(config)
	if err == nil {
		return msg
	}
	log.Printf("[Locales] Failed to localize %q: %v", msgID, err)

	fallback := i18n.NewLocalizer(bundle, language.English.String())
	if msg, err := fallback.Localize(config); err == nil {
		return msg
	}
	return msgID
}
