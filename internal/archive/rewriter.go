package archive

import (
	"regexp"
	"sort"
	"strings"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
)

// Minimum candidate length. Single characters would rewrite half the page.
const minCandidateLen = 2

// Pages that carry a <base> element would re-anchor the relative names we
// substitute in, so the tag is stripped from the rewritten document.
var baseTagRE = regexp.MustCompile(`(?i)<base\b[^>]*>`)

// RewriteHTML substitutes every known resource reference in the document
// with the bare local filename the resource was saved under. References
// are matched textually: the full URL plus a ladder of path suffixes in
// "./x", "/x" and "x" forms, derived by stripping the referer (or the
// scheme when there is none) and dropping leading path segments one at a
// time. The final bare segment alone is never a candidate; it is the
// replacement value and matching it would touch unrelated text.
func RewriteHTML(html string, records map[string]schemas.ResourceRecord) string {
	urls := make([]string, 0, len(records))
	for u := range records {
		urls = append(urls, u)
	}
	// Longest URL first so one resource's rewrite cannot mangle a longer
	// sibling that embeds it.
	sort.Slice(urls, func(i, j int) bool {
		if len(urls[i]) != len(urls[j]) {
			return len(urls[i]) > len(urls[j])
		}
		return urls[i] < urls[j]
	})

	for _, u := range urls {
		rec := records[u]
		for _, cand := range candidates(u, rec.Referer) {
			html = strings.ReplaceAll(html, cand, rec.LocalFilename)
		}
	}
	return baseTagRE.ReplaceAllString(html, "")
}

// candidates builds the substitution ladder for one URL, deduplicated and
// ordered longest first.
func candidates(rawURL, referer string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 8)
	add := func(c string) {
		if len(c) < minCandidateLen {
			return
		}
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	add(rawURL)

	remainder := rawURL
	if referer != "" {
		remainder = strings.ReplaceAll(rawURL, referer, "")
	} else {
		remainder = strings.TrimPrefix(remainder, "https://")
		remainder = strings.TrimPrefix(remainder, "http://")
	}

	parts := strings.Split(remainder, "/")
	for i := 0; i < len(parts)-1; i++ {
		suffix := strings.Join(parts[i:], "/")
		add("./" + suffix)
		add("/" + suffix)
		add(suffix)
	}

	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}
