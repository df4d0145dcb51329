package extraction

import (
	"context"
	"regexp"
	"strings"

	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/page"

	"github.com/rotisserie/eris"
)

var titleSeparator = regexp.MustCompile(`\s+[|–—-]\s+`)

// MetaTagLayer reads OpenGraph, Twitter card and event meta tags plus the document title
type MetaTagLayer struct{}

func NewMetaTagLayer() *MetaTagLayer { return &MetaTagLayer{} }

func (l *MetaTagLayer) ID() models.LayerID { return models.LayerMetaTags }

func (l *MetaTagLayer) Extract(ctx context.Context, acc page.Accessor, _ Snapshot) ([]models.FieldCandidate, error) {
	nodes, err := acc.Query(ctx, "meta")
	if err != nil {
		return nil, eris.Wrap(err, "failed to query meta tags")
	}

	meta := map[string]string{}
	for _, n := range nodes {
		key := strings.ToLower(firstNonBlank(n.Attr("property"), n.Attr("name"), n.Attr("itemprop")))
		content := strings.TrimSpace(n.Attr("content"))
		if key == "" || content == "" {
			continue
		}
		if _, seen := meta[key]; !seen {
			meta[key] = content
		}
	}

	layer := l.ID()
	var out candidateList

	if title := firstNonBlank(meta["og:title"], meta["twitter:title"]); title != "" {
		out.text(models.FieldTitle, title, 75, layer)
	} else if titles, err := acc.Query(ctx, "title"); err == nil && len(titles) > 0 {
		out.text(models.FieldTitle, titleSeparator.Split(titles[0].Text, 2)[0], 60, layer)
	}

	out.text(models.FieldDescription, firstNonBlank(meta["og:description"], meta["twitter:description"], meta["description"]), 70, layer)

	if image := firstNonBlank(meta["og:image"], meta["og:image:url"], meta["og:image:secure_url"], meta["twitter:image"], meta["twitter:image:src"]); image != "" {
		if resolved := page.ResolveURL(acc.URL(), image); models.ValidateImageURL(resolved) {
			out.text(models.FieldImage, resolved, 75, layer)
		}
	}

	start := firstNonBlank(meta["event:start_time"], meta["og:start_time"], meta["event:start_date"], meta["startdate"])
	if date, clock, hasTime, ok := parseISODateTime(start); ok {
		out.text(models.FieldDate, date, 80, layer)
		if hasTime {
			out.text(models.FieldStartTime, clock, 78, layer)
		}
	}
	end := firstNonBlank(meta["event:end_time"], meta["og:end_time"], meta["enddate"])
	if _, clock, hasTime, ok := parseISODateTime(end); ok && hasTime {
		out.text(models.FieldEndTime, clock, 75, layer)
	}

	street := firstNonBlank(meta["og:street-address"], meta["place:location:street_address"], meta["business:contact_data:street_address"])
	city := firstNonBlank(meta["og:locality"], meta["business:contact_data:locality"])
	if street != "" {
		address := street
		if city != "" {
			address += ", " + city
		}
		out.text(models.FieldAddress, address, 72, layer)
	}
	out.text(models.FieldCity, city, 70, layer)
	out.text(models.FieldVenue, firstNonBlank(meta["event:location"], meta["event:venue"]), 65, layer)

	if amount := firstNonBlank(meta["product:price:amount"], meta["og:price:amount"], meta["price:amount"]); amount != "" {
		if value, ok := numberValue(amount); ok {
			if value == 0 {
				out.add(models.FreeCandidate(true, 65, layer))
				out.text(models.FieldPrice, "Free", 65, layer)
			} else {
				out.text(models.FieldPrice, formatPrice(value, firstNonBlank(meta["product:price:currency"], meta["og:price:currency"])), 65, layer)
			}
		}
	}

	return out, nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
