package crawl

import (
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/probelab/scrutiny/extract"
)

// detectClientTechs matches the quick client-side signature table against
// script sources and inline script bodies.
func detectClientTechs(doc *html.Node) []string {
	var haystacks []string
	haystacks = append(haystacks, extract.ScriptSrcs(doc)...)
	haystacks = append(haystacks, extract.InlineScripts(doc)...)

	found := map[string]struct{}{}
	for _, h := range haystacks {
		lower := strings.ToLower(h)
		for _, sig := range clientSigs {
			pat := sig.pattern
			// Case-sensitive patterns are window globals; everything else
			// matches case-insensitively.
			if pat != strings.ToLower(pat) {
				if strings.Contains(h, pat) {
					found[sig.tech] = struct{}{}
				}
				continue
			}
			if strings.Contains(lower, pat) {
				found[sig.tech] = struct{}{}
			}
		}
	}
	return sortedKeys(found)
}

// detectEndpoints captures API-like paths from link targets, script sources
// and raw markup, deduplicated.
func detectEndpoints(doc *html.Node, rawBody string) []string {
	found := map[string]struct{}{}

	scan := func(s string) {
		for _, m := range apiEndpointRe.FindAllString(s, -1) {
			m = strings.TrimRight(m, "./")
			if len(m) > 3 {
				found[m] = struct{}{}
			}
		}
	}

	for _, href := range extract.Links(doc) {
		scan(href)
	}
	for _, src := range extract.ScriptSrcs(doc) {
		scan(src)
	}
	scan(rawBody)

	return sortedKeys(found)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
