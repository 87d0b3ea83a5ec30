package mailer

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText derives the text/plain alternative from a rendered HTML body.
// Headings and paragraphs become lines, list items are bulleted and <pre> keeps its line breaks.
func PlainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var lines []string
	doc.Find("h2, h3, p, li, pre").Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "pre":
			lines = append(lines, strings.TrimRight(s.Text(), "\n"))
		case "li":
			lines = append(lines, "- "+collapse(s.Text()))
		case "h2", "h3":
			lines = append(lines, "", collapse(s.Text()))
		default:
			lines = append(lines, collapse(s.Text()))
		}
	})

	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n", nil
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
