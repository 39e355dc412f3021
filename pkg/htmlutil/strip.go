package htmlutil

import (
	"strings"

	"golang.org/x/net/html"
)

// blockTags end a visual line when they close.
var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "br": {}, "li": {}, "empty-line": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"title": {}, "subtitle": {}, "v": {}, "stanza": {},
}

// StripTags removes markup from an annotation fragment (XHTML from EPUB or the
// FB2 paragraph dialect) and returns plain text with one paragraph per line.
// Entities are decoded by the tokenizer.
func StripTags(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	var (
		lines []string
		cur   strings.Builder
	)
	flush := func() {
		line := strings.Join(strings.Fields(cur.String()), " ")
		if line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}

	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			flush()
			return strings.Join(lines, "\n")
		case html.TextToken:
			cur.Write(z.Text())
		case html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if _, ok := blockTags[strings.ToLower(string(name))]; ok {
				flush()
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			if strings.EqualFold(string(name), "br") {
				flush()
			}
		}
	}
}
