package sources

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CleanMarkup strips the JATS/HTML fragments that PubMed and OpenAlex embed
// in titles and abstracts (<i>, <sub>, <jats:p> and friends), collapsing
// whitespace. Plain strings pass through untouched.
func CleanMarkup(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.TrimSpace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}

	return strings.Join(strings.Fields(doc.Text()), " ")
}
