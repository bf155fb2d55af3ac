// Package content turns feed HTML into what a card shows: a short plain
// description, a lead image and a markdown body for the terminal.
package content

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// DescriptionLength is the card description limit in characters.
const DescriptionLength = 200

var whitespace = regexp.MustCompile(`\s+`)

// PlainText strips tags, decodes entities and collapses whitespace.
func PlainText(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(whitespace.ReplaceAllString(html, " "))
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(doc.Text(), " "))
}

// Truncate shortens text to at most max characters plus an ellipsis. It cuts
// at the last space when that keeps more than 60% of the text.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	cut := string(runes[:max])
	if i := strings.LastIndex(cut, " "); i > 0 && len([]rune(cut[:i])) > max*6/10 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, ".,;:!? ") + "..."
}

// Description picks the first non-empty source and renders it as a card description.
func Description(sources ...string) string {
	for _, s := range sources {
		if text := PlainText(s); text != "" {
			return Truncate(text, DescriptionLength)
		}
	}
	return ""
}

// FirstImage returns the src of the first <img> in html.
func FirstImage(html string) string {
	if !strings.Contains(html, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

// HasMedia reports whether html embeds an image, video or audio element.
func HasMedia(html string) bool {
	if html == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find("img, video, audio, iframe").Length() > 0
}

// WordCount counts words in the plain text of html.
func WordCount(html string) int {
	return len(strings.Fields(PlainText(html)))
}

// Markdown converts article HTML to markdown for terminal rendering.
func Markdown(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	return converter.ConvertString(html)
}
