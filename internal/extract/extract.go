// Package extract parses fetched HTML for page metadata. It is pure: no I/O,
// and malformed HTML yields empty fields instead of errors.
package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Metadata holds the fields extracted from a page.
type Metadata struct {
	Title       string
	Description string
	// FaviconHint is the href of a declared icon link, if any. It is a
	// last-resort signal only; the icon tiers do not depend on it.
	FaviconHint string
}

// Extract parses htmlBytes and returns whatever metadata it can find.
func Extract(htmlBytes []byte) Metadata {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return Metadata{}
	}

	var md Metadata
	md.Title = collapseWhitespace(doc.Find("title").First().Text())
	md.Description = extractDescription(doc)
	md.FaviconHint = extractFaviconHint(doc)
	return md
}

func extractDescription(doc *goquery.Document) string {
	desc := ""
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(name), "description") {
			return true
		}
		content, ok := s.Attr("content")
		if !ok {
			return true
		}
		desc = collapseWhitespace(content)
		return false
	})
	return desc
}

func extractFaviconHint(doc *goquery.Document) string {
	href := ""
	doc.Find("link").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		if !isIconRel(rel) {
			return true
		}
		h, ok := s.Attr("href")
		if !ok || strings.TrimSpace(h) == "" {
			return true
		}
		href = strings.TrimSpace(h)
		return false
	})
	return href
}

// isIconRel matches rel attributes declaring an icon, case-insensitively.
// rel is a space-separated token list ("shortcut icon", "icon", "apple-touch-icon").
func isIconRel(rel string) bool {
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if token == "icon" || token == "apple-touch-icon" {
			return true
		}
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
