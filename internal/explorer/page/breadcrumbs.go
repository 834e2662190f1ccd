package page

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Breadcrumb is an entry of the navigation trail of a page.
type Breadcrumb struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

const (
	mlBreadcrumb               = "Machine Learning"
	anomalyDetectionBreadcrumb = "Anomaly Detection"
	anomalyExplorerBreadcrumb  = "Anomaly Explorer"
)

var (
	supportedLanguages = []language.Tag{language.English, language.French}
	languageMatcher    = language.NewMatcher(supportedLanguages)
	messages           = newCatalog()
)

func newCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	translations := map[language.Tag]map[string]string{
		language.English: {
			mlBreadcrumb:               "Machine Learning",
			anomalyDetectionBreadcrumb: "Anomaly Detection",
			anomalyExplorerBreadcrumb:  "Anomaly Explorer",
		},
		language.French: {
			mlBreadcrumb:               "Machine Learning",
			anomalyDetectionBreadcrumb: "Détection des anomalies",
			anomalyExplorerBreadcrumb:  "Explorateur d'anomalies",
		},
	}
	for tag, msgs := range translations {
		for key, msg := range msgs {
			// Keys and messages are constants: SetString only fails on invalid messages.
			_ = b.SetString(tag, key, msg)
		}
	}
	return b
}

// MatchLanguage returns the supported language closest to the given locales, English by default.
func MatchLanguage(locales ...string) language.Tag {
	tag, _ := language.MatchStrings(languageMatcher, locales...)
	base, _ := tag.Base()
	for _, t := range supportedLanguages {
		if b, _ := t.Base(); b == base {
			return t
		}
	}
	return language.English
}

// Breadcrumbs returns the navigation trail of the explorer page, translated in lang.
func Breadcrumbs(lang language.Tag) []Breadcrumb {
	p := message.NewPrinter(lang, message.Catalog(messages))
	return []Breadcrumb{
		{Text: p.Sprintf(mlBreadcrumb), Href: "#/"},
		{Text: p.Sprintf(anomalyDetectionBreadcrumb), Href: "#/jobs"},
		{Text: p.Sprintf(anomalyExplorerBreadcrumb), Href: ""},
	}
}
