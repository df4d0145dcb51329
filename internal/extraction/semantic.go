package extraction

import (
	"context"
	"strings"
	"time"

	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/page"
	"event-extraction-engine/internal/venue"
)

const maxSemanticText = 300

// semanticRule maps the first usable node of a selector onto candidates
type semanticRule struct {
	selector   string
	field      models.FieldName
	confidence float64
	read       func(l *SemanticHTMLLayer, n page.Node, pageURL string, out *candidateList, rule semanticRule) bool
}

var semanticRules = []semanticRule{
	{selector: `[class*="event-title"], [class*="event-name"], [class*="eventTitle"]`, field: models.FieldTitle, confidence: 75, read: readText},
	{selector: `[itemprop="name"]`, field: models.FieldTitle, confidence: 72, read: readText},
	{selector: "h1", field: models.FieldTitle, confidence: 70, read: readText},
	{selector: `[itemprop="startDate"]`, field: models.FieldDate, confidence: 74, read: readDateTime},
	{selector: "time[datetime]", field: models.FieldDate, confidence: 72, read: readDateTime},
	{selector: `[class*="date"]`, field: models.FieldDate, confidence: 60, read: readDateText},
	{selector: `[class*="venue"]`, field: models.FieldVenue, confidence: 65, read: readText},
	{selector: `[itemprop="streetAddress"]`, field: models.FieldAddress, confidence: 72, read: readText},
	{selector: `[itemprop="addressLocality"]`, field: models.FieldCity, confidence: 70, read: readText},
	{selector: "address", field: models.FieldAddress, confidence: 68, read: readText},
	{selector: `[class*="address"]`, field: models.FieldAddress, confidence: 62, read: readText},
	{selector: `[class*="location"]`, field: models.FieldVenue, confidence: 55, read: readLocation},
	{selector: `[class*="price"], [class*="ticket-cost"]`, field: models.FieldPrice, confidence: 58, read: readPrice},
	{selector: `[class*="description"], [itemprop="description"]`, field: models.FieldDescription, confidence: 60, read: readText},
	{selector: `[itemprop="image"]`, field: models.FieldImage, confidence: 65, read: readImage},
}

// SemanticHTMLLayer reads conventional class names, microdata attributes and semantic elements
type SemanticHTMLLayer struct {
	now func() time.Time
}

func NewSemanticHTMLLayer(now func() time.Time) *SemanticHTMLLayer {
	if now == nil {
		now = time.Now
	}
	return &SemanticHTMLLayer{now: now}
}

func (l *SemanticHTMLLayer) ID() models.LayerID { return models.LayerSemanticHTML }

// Extract applies every rule; a rule whose selector fails is skipped rather than failing the layer
func (l *SemanticHTMLLayer) Extract(ctx context.Context, acc page.Accessor, _ Snapshot) ([]models.FieldCandidate, error) {
	var out candidateList
	for _, rule := range semanticRules {
		nodes, err := acc.Query(ctx, rule.selector)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		for _, n := range nodes {
			if rule.read(l, n, acc.URL(), &out, rule) {
				break
			}
		}
	}
	return out, nil
}

func readText(_ *SemanticHTMLLayer, n page.Node, _ string, out *candidateList, rule semanticRule) bool {
	text := collapseSpace(n.Text)
	if text == "" || (rule.field != models.FieldDescription && len(text) > maxSemanticText) {
		return false
	}
	before := len(*out)
	out.text(rule.field, text, rule.confidence, models.LayerSemanticHTML)
	return len(*out) > before
}

func readDateTime(l *SemanticHTMLLayer, n page.Node, pageURL string, out *candidateList, rule semanticRule) bool {
	value := firstNonBlank(n.Attr("datetime"), n.Attr("content"))
	date, clock, hasTime, ok := parseISODateTime(value)
	if !ok {
		return readDateText(l, n, pageURL, out, rule)
	}
	out.text(models.FieldDate, date, rule.confidence, models.LayerSemanticHTML)
	if hasTime {
		out.text(models.FieldStartTime, clock, rule.confidence-2, models.LayerSemanticHTML)
	}
	return true
}

func readDateText(l *SemanticHTMLLayer, n page.Node, _ string, out *candidateList, rule semanticRule) bool {
	d, ok := findDate(n.Text, l.now())
	if !ok {
		return false
	}
	out.text(models.FieldDate, d.ISO, rule.confidence, models.LayerSemanticHTML)
	if tm, ok := findTimes(n.Text); ok {
		out.text(models.FieldStartTime, tm.Start, rule.confidence-5, models.LayerSemanticHTML)
		out.text(models.FieldEndTime, tm.End, rule.confidence-8, models.LayerSemanticHTML)
	}
	return true
}

// readLocation splits "Venue Name 123 Main St" style text into venue and address
func readLocation(_ *SemanticHTMLLayer, n page.Node, _ string, out *candidateList, rule semanticRule) bool {
	text := collapseSpace(n.Text)
	if text == "" || len(text) > maxSemanticText {
		return false
	}
	switch idx := venue.FindStreet(text); {
	case idx == 0:
		out.text(models.FieldAddress, text, rule.confidence+5, models.LayerSemanticHTML)
	case idx > 0:
		out.text(models.FieldVenue, strings.Trim(text[:idx], " ,-–|@"), rule.confidence, models.LayerSemanticHTML)
		out.text(models.FieldAddress, text[idx:], rule.confidence+5, models.LayerSemanticHTML)
	default:
		out.text(models.FieldVenue, text, rule.confidence, models.LayerSemanticHTML)
	}
	return true
}

func readPrice(_ *SemanticHTMLLayer, n page.Node, _ string, out *candidateList, rule semanticRule) bool {
	text := collapseSpace(n.Text)
	if text == "" {
		return false
	}
	if freePattern.MatchString(text) || strings.EqualFold(text, "free") {
		out.add(models.FreeCandidate(true, rule.confidence, models.LayerSemanticHTML))
		out.text(models.FieldPrice, "Free", rule.confidence, models.LayerSemanticHTML)
		return true
	}
	m := dollarPattern.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	price := "$" + m[1]
	if m[2] != "" {
		price += "-$" + m[2]
	}
	out.text(models.FieldPrice, price, rule.confidence, models.LayerSemanticHTML)
	out.add(models.FreeCandidate(false, rule.confidence-10, models.LayerSemanticHTML))
	return true
}

func readImage(_ *SemanticHTMLLayer, n page.Node, pageURL string, out *candidateList, rule semanticRule) bool {
	src := firstNonBlank(n.Attr("src"), n.Attr("content"), n.Attr("href"), n.Attr("data-src"))
	resolved := page.ResolveURL(pageURL, src)
	if !models.ValidateImageURL(resolved) {
		return false
	}
	out.text(models.FieldImage, resolved, rule.confidence, models.LayerSemanticHTML)
	return true
}
