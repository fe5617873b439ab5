package fetch

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractText pulls the visible text out of an HTML document. Script,
// style, and template nodes are dropped first. With prettify set, runs
// of whitespace collapse and blank lines between blocks are squeezed to
// one, which is what operators usually want for archived text.
func ExtractText(html []byte, prettify bool) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}
	if !prettify {
		return text, nil
	}
	return prettifyText(text), nil
}

// Title returns the document title, or "" when the page has none.
func Title(html []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func prettifyText(text string) string {
	var b strings.Builder
	blank := true
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank {
				b.WriteByte('\n')
				blank = true
			}
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
		blank = false
	}
	return strings.TrimRight(b.String(), "\n")
}
