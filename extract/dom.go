package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DOM helpers shared with the crawler and fingerprinter, which both walk
// parsed pages for signatures, forms and metadata.

// Parse parses raw HTML into a document node.
func Parse(raw []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(raw))
}

// Title returns the document <title>, trimmed.
func Title(doc *html.Node) string {
	if n := FindFirst(doc, atom.Title); n != nil && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	return ""
}

// Attr returns the value of an attribute on a node, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// FindAll returns all elements with the given tag under root.
func FindAll(root *html.Node, tag atom.Atom) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

// FindFirst returns the first element with the given tag, or nil.
func FindFirst(root *html.Node, tag atom.Atom) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == tag {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

// MetaTags returns name/property → content for all <meta> tags.
func MetaTags(doc *html.Node) map[string]string {
	out := map[string]string{}
	for _, n := range FindAll(doc, atom.Meta) {
		key := Attr(n, "name")
		if key == "" {
			key = Attr(n, "property")
		}
		if key == "" {
			continue
		}
		out[strings.ToLower(key)] = Attr(n, "content")
	}
	return out
}

// Form describes one <form> on a page.
type Form struct {
	Action string   `json:"action"`
	Method string   `json:"method"`
	Inputs []string `json:"inputs"` // input names/types
}

// Forms returns the forms on a page with their input fields.
func Forms(doc *html.Node) []Form {
	var forms []Form
	for _, f := range FindAll(doc, atom.Form) {
		form := Form{
			Action: Attr(f, "action"),
			Method: strings.ToUpper(Attr(f, "method")),
		}
		if form.Method == "" {
			form.Method = "GET"
		}
		for _, in := range FindAll(f, atom.Input) {
			name := Attr(in, "name")
			if name == "" {
				name = Attr(in, "type")
			}
			if name != "" {
				form.Inputs = append(form.Inputs, name)
			}
		}
		forms = append(forms, form)
	}
	return forms
}

// ScriptSrcs returns the src attribute of every external <script>.
func ScriptSrcs(doc *html.Node) []string {
	var srcs []string
	for _, n := range FindAll(doc, atom.Script) {
		if src := Attr(n, "src"); src != "" {
			srcs = append(srcs, src)
		}
	}
	return srcs
}

// InlineScripts returns the text of every inline <script>.
func InlineScripts(doc *html.Node) []string {
	var scripts []string
	for _, n := range FindAll(doc, atom.Script) {
		if Attr(n, "src") != "" {
			continue
		}
		var sb strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
		}
		if sb.Len() > 0 {
			scripts = append(scripts, sb.String())
		}
	}
	return scripts
}

// StylesheetHrefs returns the href of every <link rel="stylesheet">.
func StylesheetHrefs(doc *html.Node) []string {
	var hrefs []string
	for _, n := range FindAll(doc, atom.Link) {
		if strings.EqualFold(Attr(n, "rel"), "stylesheet") {
			if href := Attr(n, "href"); href != "" {
				hrefs = append(hrefs, href)
			}
		}
	}
	return hrefs
}

// Links returns the href of every <a> under root.
func Links(doc *html.Node) []string {
	var hrefs []string
	for _, n := range FindAll(doc, atom.A) {
		if href := Attr(n, "href"); href != "" {
			hrefs = append(hrefs, href)
		}
	}
	return hrefs
}
