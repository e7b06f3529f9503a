package cleaner

import (
	"fmt"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// Processor selects the cleaning implementation.
type Processor string

const (
	// ProcessorReader is the default DOM-based cleaner.
	ProcessorReader Processor = "cheerio-reader"
	// ProcessorRewriter streams the document through a tokenizer
	// instead of building a DOM.
	ProcessorRewriter Processor = "html-rewriter"
	// ProcessorBrowser cleans browser-rendered HTML; the DOM pass is
	// the same as ProcessorReader, the difference is upstream in the
	// fetcher.
	ProcessorBrowser Processor = "browser"
)

// Valid reports whether p names a known processor.
func (p Processor) Valid() bool {
	switch p {
	case ProcessorReader, ProcessorRewriter, ProcessorBrowser:
		return true
	}
	return false
}

// Options configures a Clean call.
type Options struct {
	Processor Processor
}

// droppedSelectors are the elements removed from every cleaned
// document.
var droppedSelectors = []string{
	"script", "style", "noscript", "iframe", "object", "embed",
	"form", "svg", "canvas", "template",
}

// Clean strips scripts, styles, embeds, and inline event handlers from
// an HTML document and returns the remaining markup.
func Clean(htmlStr string, opts Options) (string, error) {
	proc := opts.Processor
	if proc == "" {
		proc = ProcessorReader
	}
	if !proc.Valid() {
		return "", fmt.Errorf("unknown cleaning processor %q", proc)
	}

	if proc == ProcessorRewriter {
		return rewrite(htmlStr)
	}
	return cleanDOM(htmlStr)
}

func cleanDOM(htmlStr string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return "", err
	}

	doc.Find(strings.Join(droppedSelectors, ", ")).Remove()

	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		for _, node := range sel.Nodes {
			attrs := node.Attr[:0]
			for _, a := range node.Attr {
				name := strings.ToLower(a.Key)
				if strings.HasPrefix(name, "on") || name == "style" {
					continue
				}
				attrs = append(attrs, a)
			}
			node.Attr = attrs
		}
	})

	body := doc.Find("body")
	if body.Length() > 0 {
		inner, err := body.Html()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(inner), nil
	}

	out, err := doc.Html()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Markdown converts cleaned HTML to CommonMark. hostname scopes
// relative link resolution in the converter.
func Markdown(cleanedHTML, hostname string) (string, error) {
	converter := htmlmd.NewConverter(hostname, true, nil)
	return converter.ConvertString(cleanedHTML)
}
