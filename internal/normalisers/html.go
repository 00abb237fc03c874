package normalisers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// HTMLNormaliser extracts text from HTML. Headings become Markdown-style
// "#" lines and block elements become line breaks.
type HTMLNormaliser struct{}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true, "template": true, "svg": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "table": true, "ul": true, "ol": true,
	"pre": true, "blockquote": true, "header": true, "footer": true, "main": true, "aside": true,
}

var lineElements = map[string]bool{
	"br": true, "li": true, "tr": true, "dt": true, "dd": true, "hr": true,
}

func (n *HTMLNormaliser) Normalise(ctx context.Context, data []byte, mimeType string) (*driven.ExtractedText, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: parse html: %v", domain.ErrUnsupportedInput, err)
			}
			text := strings.TrimSpace(b.String())
			return &driven.ExtractedText{Text: text, PageCount: pagesOf(text)}, nil

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case skippedElements[tag]:
				if tt == html.StartTagToken {
					skip++
				}
			case skip > 0:
			case len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6':
				b.WriteString("\n\n")
				b.WriteString(strings.Repeat("#", int(tag[1]-'0')))
				b.WriteByte(' ')
			case blockElements[tag]:
				b.WriteString("\n\n")
			case lineElements[tag]:
				b.WriteByte('\n')
			case tag == "td" || tag == "th":
				b.WriteByte('\t')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case skippedElements[tag]:
				if skip > 0 {
					skip--
				}
			case skip > 0:
			case len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6':
				b.WriteString("\n\n")
			case blockElements[tag]:
				b.WriteString("\n\n")
			}

		case html.TextToken:
			if skip > 0 {
				continue
			}
			raw := z.Raw()
			lead := len(raw) > 0 && isHTMLSpace(raw[0])
			trail := len(raw) > 0 && isHTMLSpace(raw[len(raw)-1])
			// Text unescapes entities in place, so Raw is read first.
			words := strings.Fields(string(z.Text()))
			if len(words) == 0 {
				continue
			}
			if lead && b.Len() > 0 && !endsWithSpace(&b) {
				b.WriteByte(' ')
			}
			b.WriteString(strings.Join(words, " "))
			if trail {
				b.WriteByte(' ')
			}
		}
	}
}

func endsWithSpace(b *strings.Builder) bool {
	s := b.String()
	return s != "" && (s[len(s)-1] == ' ' || s[len(s)-1] == '\n' || s[len(s)-1] == '\t')
}

func isHTMLSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

func (n *HTMLNormaliser) SupportedTypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

func (n *HTMLNormaliser) Priority() int {
	return 50 // Medium priority - format-specific
}
