package extraction

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/page"

	"github.com/rotisserie/eris"
)

// eventTypeCategories maps schema.org event subtypes onto the category set
var eventTypeCategories = map[string]string{
	"MusicEvent":      models.CategoryMusic,
	"ComedyEvent":     models.CategoryComedy,
	"TheaterEvent":    models.CategoryArts,
	"DanceEvent":      models.CategoryArts,
	"VisualArtsEvent": models.CategoryArts,
	"ExhibitionEvent": models.CategoryArts,
	"LiteraryEvent":   models.CategoryArts,
	"FoodEvent":       models.CategoryFoodDrink,
	"SportsEvent":     models.CategorySports,
	"ScreeningEvent":  models.CategoryFilm,
	"EducationEvent":  models.CategoryEducation,
	"ChildrensEvent":  models.CategoryFamily,
	"SocialEvent":     models.CategoryCommunity,
	"Festival":        models.CategoryCommunity,
}

// StructuredDataLayer reads schema.org Event objects from JSON-LD and microdata
type StructuredDataLayer struct{}

func NewStructuredDataLayer() *StructuredDataLayer { return &StructuredDataLayer{} }

func (l *StructuredDataLayer) ID() models.LayerID { return models.LayerStructuredData }

func (l *StructuredDataLayer) Extract(ctx context.Context, acc page.Accessor, _ Snapshot) ([]models.FieldCandidate, error) {
	objects, err := acc.StructuredData(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read structured data")
	}

	for _, obj := range objects {
		types := schemaTypes(obj)
		if !isEventType(types) {
			continue
		}
		return eventCandidates(obj, types, acc.URL(), l.ID()), nil
	}
	return nil, nil
}

func eventCandidates(obj map[string]any, types []string, pageURL string, layer models.LayerID) []models.FieldCandidate {
	var out candidateList
	out.text(models.FieldTitle, stringValue(obj["name"]), 95, layer)
	out.text(models.FieldDescription, stringValue(obj["description"]), 90, layer)

	if date, clock, hasTime, ok := parseISODateTime(stringValue(obj["startDate"])); ok {
		out.text(models.FieldDate, date, 95, layer)
		if hasTime {
			out.text(models.FieldStartTime, clock, 92, layer)
		}
	}
	if _, clock, hasTime, ok := parseISODateTime(stringValue(obj["endDate"])); ok && hasTime {
		out.text(models.FieldEndTime, clock, 90, layer)
	}

	switch loc := obj["location"].(type) {
	case string:
		out.text(models.FieldVenue, loc, 90, layer)
	case map[string]any:
		out.text(models.FieldVenue, stringValue(loc["name"]), 93, layer)
		street, city := postalAddress(loc["address"])
		if street != "" {
			if city != "" {
				out.text(models.FieldAddress, street+", "+city, 93, layer)
			} else {
				out.text(models.FieldAddress, street, 93, layer)
			}
		}
		out.text(models.FieldCity, city, 92, layer)
	case []any:
		if len(loc) > 0 {
			if first, ok := loc[0].(map[string]any); ok {
				out.text(models.FieldVenue, stringValue(first["name"]), 93, layer)
			}
		}
	}

	if price, free, ok := offerPrice(obj["offers"]); ok {
		if free {
			out.add(models.FreeCandidate(true, 92, layer))
			out.text(models.FieldPrice, "Free", 90, layer)
		} else {
			out.add(models.FreeCandidate(false, 90, layer))
			out.text(models.FieldPrice, price, 90, layer)
		}
	} else if b, ok := obj["isAccessibleForFree"].(bool); ok {
		out.add(models.FreeCandidate(b, 90, layer))
	}

	if image := imageValue(obj["image"]); image != "" {
		if resolved := page.ResolveURL(pageURL, image); models.IsValidURL(resolved) {
			out.text(models.FieldImage, resolved, 90, layer)
		}
	}

	var categories []string
	for _, t := range types {
		if category, ok := eventTypeCategories[t]; ok {
			categories = append(categories, category)
		}
	}
	if c, ok := models.CategoriesCandidate(categories, 90, layer); ok {
		out.add(c)
	}
	return out
}

// candidateList collects candidates, skipping values that fail validation
type candidateList []models.FieldCandidate

func (l *candidateList) text(field models.FieldName, value string, confidence float64, layer models.LayerID) {
	if c, ok := models.TextCandidate(field, collapseSpace(value), confidence, layer); ok {
		*l = append(*l, c)
	}
}

func (l *candidateList) add(c models.FieldCandidate) {
	*l = append(*l, c)
}

func schemaTypes(obj map[string]any) []string {
	switch t := obj["@type"].(type) {
	case string:
		return []string{t}
	case []any:
		var types []string
		for _, v := range t {
			if s, ok := v.(string); ok {
				types = append(types, s)
			}
		}
		return types
	}
	return nil
}

func isEventType(types []string) bool {
	for _, t := range types {
		if t == "Event" || t == "Festival" || strings.HasSuffix(t, "Event") {
			return true
		}
	}
	return false
}

// postalAddress reads a PostalAddress object or plain string into street and city
func postalAddress(v any) (street, city string) {
	switch a := v.(type) {
	case string:
		return strings.TrimSpace(a), ""
	case map[string]any:
		return stringValue(a["streetAddress"]), stringValue(a["addressLocality"])
	}
	return "", ""
}

// offerPrice inspects an Offer or AggregateOffer (or a list of them)
func offerPrice(v any) (price string, free bool, ok bool) {
	switch o := v.(type) {
	case []any:
		for _, item := range o {
			if price, free, ok := offerPrice(item); ok {
				return price, free, true
			}
		}
	case map[string]any:
		raw := o["price"]
		if raw == nil {
			raw = o["lowPrice"]
		}
		amount, ok := numberValue(raw)
		if !ok {
			return "", false, false
		}
		if amount == 0 {
			return "", true, true
		}
		currency := stringValue(o["priceCurrency"])
		return formatPrice(amount, currency), false, true
	}
	return "", false, false
}

func formatPrice(amount float64, currency string) string {
	text := strconv.FormatFloat(amount, 'f', -1, 64)
	if amount != float64(int64(amount)) {
		text = fmt.Sprintf("%.2f", amount)
	}
	if currency == "" || strings.EqualFold(currency, "USD") {
		return "$" + text
	}
	return text + " " + strings.ToUpper(currency)
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(n), "$"), 64)
		return f, err == nil
	}
	return 0, false
}

func imageValue(v any) string {
	switch img := v.(type) {
	case string:
		return img
	case []any:
		for _, item := range img {
			if s := imageValue(item); s != "" {
				return s
			}
		}
	case map[string]any:
		if s := stringValue(img["url"]); s != "" {
			return s
		}
		return stringValue(img["contentUrl"])
	}
	return ""
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case []any:
		if len(s) > 0 {
			return stringValue(s[0])
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
