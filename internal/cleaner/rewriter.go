package cleaner

import (
	"strings"

	"golang.org/x/net/html"
)

// rewrite streams the document through x/net/html's tokenizer,
// dropping unsafe elements and attributes without building a DOM. It
// trades fidelity for constant memory on very large documents.
func rewrite(htmlStr string) (string, error) {
	dropped := make(map[string]struct{}, len(droppedSelectors))
	for _, tag := range droppedSelectors {
		dropped[tag] = struct{}{}
	}

	z := html.NewTokenizer(strings.NewReader(htmlStr))
	var b strings.Builder
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF ends the document; any other tokenizer error is
			// unrecoverable mid-stream, so return what was rewritten.
			return strings.TrimSpace(b.String()), nil

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if _, drop := dropped[tok.Data]; drop {
				if tt == html.StartTagToken && !voidElements[tok.Data] {
					skipDepth++
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			writeTag(&b, tok, tt == html.SelfClosingTagToken)

		case html.EndTagToken:
			tok := z.Token()
			if _, drop := dropped[tok.Data]; drop {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			b.WriteString("</")
			b.WriteString(tok.Data)
			b.WriteString(">")

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			b.WriteString(html.EscapeString(string(z.Text())))

		case html.CommentToken, html.DoctypeToken:
			// Dropped from cleaned output.
		}
	}
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

func writeTag(b *strings.Builder, tok html.Token, selfClosing bool) {
	b.WriteString("<")
	b.WriteString(tok.Data)
	for _, a := range tok.Attr {
		name := strings.ToLower(a.Key)
		if strings.HasPrefix(name, "on") || name == "style" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(a.Key)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(a.Val))
		b.WriteString(`"`)
	}
	if selfClosing {
		b.WriteString("/")
	}
	b.WriteString(">")
}
