// Package extract pulls readable content out of HTML pages.
//
// It prefers semantic landmarks (<main>, <article>) and falls back to text
// density analysis over the body, filtering boilerplate (nav, footer,
// sidebar, ads).
package extract

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Result is the extracted content of one page.
type Result struct {
	Title string
	Text  string // visible text of the main content region
	HTML  string // markup of the main content region
	Hash  string // SHA-256 of Text
}

// Options controls extraction.
type Options struct {
	MinTextLen int // minimum text length for a content region. Default: 80.
	MaxTextLen int // truncate Text beyond this. 0 = no limit.
}

func (o *Options) defaults() {
	if o.MinTextLen <= 0 {
		o.MinTextLen = 80
	}
}

// Extract parses raw HTML and returns the main content.
func Extract(raw []byte, opts Options) (*Result, error) {
	opts.defaults()

	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := Title(doc)

	// Semantic landmarks first.
	if nodes := landmarks(doc); len(nodes) > 0 {
		var texts, markups []string
		for _, n := range nodes {
			if isBoilerplate(n) {
				continue
			}
			text := collectText(n)
			if len(text) >= opts.MinTextLen {
				texts = append(texts, text)
				markups = append(markups, renderNode(n))
			}
		}
		if len(texts) > 0 {
			return finish(strings.Join(texts, "\n\n"), strings.Join(markups, "\n"), title, opts), nil
		}
	}

	// Density scoring over the body.
	body := FindFirst(doc, atom.Body)
	if body == nil {
		body = doc
	}
	if best := densestNode(body, opts.MinTextLen); best != nil {
		return finish(collectText(best), renderNode(best), title, opts), nil
	}

	// Last resort: all non-boilerplate text.
	text := collectCleanText(body)
	if len(text) < opts.MinTextLen {
		return &Result{Title: title, Hash: hashText("")}, nil
	}
	return finish(text, renderNode(body), title, opts), nil
}

func finish(text, markup, title string, opts Options) *Result {
	if opts.MaxTextLen > 0 && len(text) > opts.MaxTextLen {
		text = text[:opts.MaxTextLen]
	}
	return &Result{Title: title, Text: text, HTML: markup, Hash: hashText(text)}
}

func hashText(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h)
}

// landmarks returns <main> elements, or <article> elements if no <main>.
func landmarks(doc *html.Node) []*html.Node {
	for _, tag := range []atom.Atom{atom.Main, atom.Article} {
		if nodes := FindAll(doc, tag); len(nodes) > 0 {
			return nodes
		}
	}
	return nil
}

var boilerplateClass = []string{
	"nav", "menu", "sidebar", "footer", "header", "banner",
	"advert", "ads", "cookie", "popup", "modal", "social",
}

// isBoilerplate reports whether n is navigation, chrome, or ad markup.
func isBoilerplate(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside:
		return true
	}
	marker := strings.ToLower(Attr(n, "class") + " " + Attr(n, "id") + " " + Attr(n, "role"))
	for _, b := range boilerplateClass {
		if strings.Contains(marker, b) {
			return true
		}
	}
	return false
}

func isContentTag(a atom.Atom) bool {
	switch a {
	case atom.Article, atom.Main, atom.Section, atom.Div, atom.P:
		return true
	}
	return false
}

// collectText gathers whitespace-normalized text under n, skipping scripts
// and styles.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

// collectCleanText is collectText with boilerplate subtrees excluded.
func collectCleanText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if isBoilerplate(n) {
				return
			}
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}
