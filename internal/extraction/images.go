package extraction

import (
	"context"
	"strings"

	"event-extraction-engine/internal/page"

	"github.com/rotisserie/eris"
)

const maxImageCandidates = 24

// collectImageURLs gathers absolute image URLs from social meta tags and img elements,
// in page order with duplicates removed
func collectImageURLs(ctx context.Context, acc page.Accessor) ([]string, error) {
	var urls []string
	seen := map[string]bool{}
	add := func(ref string) {
		resolved := page.ResolveURL(acc.URL(), ref)
		if resolved == "" || seen[resolved] || len(urls) >= maxImageCandidates {
			return
		}
		seen[resolved] = true
		urls = append(urls, resolved)
	}

	metas, err := acc.Query(ctx, `meta[property="og:image"], meta[name="twitter:image"]`)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query image meta tags")
	}
	for _, n := range metas {
		add(n.Attr("content"))
	}

	imgs, err := acc.Query(ctx, "img")
	if err != nil {
		return nil, eris.Wrap(err, "failed to query img elements")
	}
	for _, n := range imgs {
		add(firstNonBlank(n.Attr("data-src"), n.Attr("data-lazy-src"), n.Attr("src"), largestSrcset(n.Attr("srcset"))))
	}
	return urls, nil
}

// largestSrcset returns the last candidate of a srcset, which is conventionally the widest
func largestSrcset(srcset string) string {
	entries := strings.Split(srcset, ",")
	for i := len(entries) - 1; i >= 0; i-- {
		if fields := strings.Fields(entries[i]); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}
