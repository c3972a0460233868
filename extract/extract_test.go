package extract

import (
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html><head>
<title>Acme Platform</title>
<meta name="description" content="Acme is a data platform">
<meta property="og:title" content="Acme">
<script src="/static/react.production.min.js"></script>
<script>window.__NEXT_DATA__ = {};</script>
<link rel="stylesheet" href="/static/tailwind.css">
</head><body>
<nav class="main-nav"><a href="/pricing">Pricing</a><a href="/docs">Docs</a></nav>
<main>
<h1>Acme Platform</h1>
<p>Acme helps teams move data between warehouses with a fully managed
pipeline service. Connect sources in minutes and sync on any schedule.
Our platform handles schema drift, retries, and monitoring for you.</p>
</main>
<form action="/signup" method="post"><input name="email"><input type="submit"></form>
<footer class="footer">Copyright Acme</footer>
</body></html>`

func TestExtractLandmark(t *testing.T) {
	res, err := Extract([]byte(samplePage), Options{MinTextLen: 50})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Title != "Acme Platform" {
		t.Fatalf("Title = %q", res.Title)
	}
	if !strings.Contains(res.Text, "managed") {
		t.Fatalf("Text missing main content: %q", res.Text)
	}
	if strings.Contains(res.Text, "Copyright") {
		t.Fatalf("Text includes footer boilerplate: %q", res.Text)
	}
	if res.Hash == "" {
		t.Fatal("empty hash")
	}
}

func TestExtractTruncates(t *testing.T) {
	res, err := Extract([]byte(samplePage), Options{MinTextLen: 50, MaxTextLen: 40})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Text) != 40 {
		t.Fatalf("len = %d, want 40", len(res.Text))
	}
}

func TestExtractDensityFallback(t *testing.T) {
	page := `<html><head><title>t</title></head><body>
<div class="sidebar"><a href="/a">a</a><a href="/b">b</a><a href="/c">c</a></div>
<div><p>` + strings.Repeat("Real article content about the product. ", 10) + `</p></div>
</body></html>`
	res, err := Extract([]byte(page), Options{MinTextLen: 50})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Text, "Real article content") {
		t.Fatalf("Text = %q", res.Text)
	}
}

func TestExtractEmptyPage(t *testing.T) {
	res, err := Extract([]byte(`<html><body></body></html>`), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "" {
		t.Fatalf("Text = %q, want empty", res.Text)
	}
}

func TestDOMHelpers(t *testing.T) {
	doc, err := Parse([]byte(samplePage))
	if err != nil {
		t.Fatal(err)
	}

	meta := MetaTags(doc)
	if meta["description"] != "Acme is a data platform" {
		t.Fatalf("meta = %v", meta)
	}
	if meta["og:title"] != "Acme" {
		t.Fatalf("og:title = %q", meta["og:title"])
	}

	srcs := ScriptSrcs(doc)
	if len(srcs) != 1 || !strings.Contains(srcs[0], "react") {
		t.Fatalf("srcs = %v", srcs)
	}

	inline := InlineScripts(doc)
	if len(inline) != 1 || !strings.Contains(inline[0], "__NEXT_DATA__") {
		t.Fatalf("inline = %v", inline)
	}

	css := StylesheetHrefs(doc)
	if len(css) != 1 || !strings.Contains(css[0], "tailwind") {
		t.Fatalf("css = %v", css)
	}

	forms := Forms(doc)
	if len(forms) != 1 || forms[0].Action != "/signup" || forms[0].Method != "POST" {
		t.Fatalf("forms = %+v", forms)
	}

	links := Links(doc)
	if len(links) != 2 {
		t.Fatalf("links = %v", links)
	}
}
