// Package fetch provides the scrape and performance adapters used by the audit pipeline.
package fetch

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MaxLiveTextLength caps the page text handed to the experts.
const MaxLiveTextLength = 20000

// Error represents an error while scraping or checking a URL.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExtractText parses rendered HTML and returns its visible text, one block per line.
// Navigation, header and footer are kept since they are part of the audited experience.
func ExtractText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, template, svg, iframe").Remove()
	// Block elements get a line break so text from siblings doesn't run together
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, section, article, header, footer, nav, br, tr, button, a").
		Each(func(_ int, s *goquery.Selection) {
			s.AppendHtml("\n")
		})

	text := cleanWhitespace(doc.Find("body").Text())
	if len(text) > MaxLiveTextLength {
		text = text[:MaxLiveTextLength]
	}
	return text, nil
}

// PageTitle returns the document title, or "" when there is none.
func PageTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// cleanWhitespace normalizes whitespace in text.
func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
