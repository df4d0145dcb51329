package extraction

import (
	"context"
	"regexp"
	"strings"

	"event-extraction-engine/internal/imaging"
	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/page"

	"github.com/rotisserie/eris"
)

var (
	atVenuePattern = regexp.MustCompile(`(?:^|\s)(?:at|@)\s+((?:the\s+)?[A-Z][\w'&.-]*(?:\s+[A-Z][\w'&.-]*){0,4})`)
	metadataPrefix = regexp.MustCompile(`(?i)^(date|time|location|price|cost|when|where|contact|phone|email|website|tickets|doors|address)\s*:`)
)

// HeuristicLayer guesses the fields earlier layers missed from the shape of the page text
type HeuristicLayer struct {
	selector   *imaging.Selector
	categories CategoryMapper
}

// NewHeuristicLayer builds the layer; a nil selector skips image guessing and a nil
// mapper uses the built-in keyword lexicon
func NewHeuristicLayer(selector *imaging.Selector, categories CategoryMapper) *HeuristicLayer {
	if categories == nil {
		categories = NewKeywordCategoryMapper(nil)
	}
	return &HeuristicLayer{selector: selector, categories: categories}
}

func (l *HeuristicLayer) ID() models.LayerID { return models.LayerHeuristics }

func (l *HeuristicLayer) Extract(ctx context.Context, acc page.Accessor, snap Snapshot) ([]models.FieldCandidate, error) {
	text, err := acc.VisibleText(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read visible text")
	}

	layer := l.ID()
	lines := contentLines(text)
	var out candidateList

	if !snap.Has(models.FieldTitle) {
		if title, heading := guessTitle(lines); title != "" {
			confidence := 30.0
			if heading {
				confidence = 45
			}
			out.text(models.FieldTitle, title, confidence, layer)
		}
	}

	if !snap.Has(models.FieldVenue) {
		for _, line := range lines {
			if m := atVenuePattern.FindStringSubmatch(line.text); m != nil {
				out.text(models.FieldVenue, strings.TrimRight(m[1], ".,"), 35, layer)
				break
			}
		}
	}

	if !snap.Has(models.FieldFree) {
		switch {
		case freePattern.MatchString(text):
			out.add(models.FreeCandidate(true, 40, layer))
		case dollarPattern.MatchString(text):
			out.add(models.FreeCandidate(false, 30, layer))
		}
	}

	if !snap.Has(models.FieldCategories) {
		record := snap.Record()
		source := strings.Join([]string{record.Title, record.Description, text}, "\n")
		if c, ok := models.CategoriesCandidate(l.categories.Map(source), 40, layer); ok {
			out.add(c)
		}
	}

	if !snap.Has(models.FieldDescription) {
		if paragraph := longestParagraph(lines); paragraph != "" {
			out.text(models.FieldDescription, paragraph, 30, layer)
		}
	}

	if !snap.Has(models.FieldImage) && l.selector != nil {
		urls, err := collectImageURLs(ctx, acc)
		if err != nil {
			return out, eris.Wrap(err, "failed to collect images")
		}
		record := snap.Record()
		if ranked := l.selector.Rank(ctx, urls, record.Title, record.Venue, imaging.Options{}); len(ranked) > 0 {
			out.text(models.FieldImage, ranked[0].URL, 40, layer)
		}
	}

	return out, nil
}

type contentLine struct {
	text    string
	heading bool
}

// contentLines strips markdown decoration and drops blank lines
func contentLines(text string) []contentLine {
	var lines []contentLine
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		heading := strings.HasPrefix(line, "#")
		line = strings.TrimSpace(strings.TrimLeft(line, "#*-> "))
		if line == "" {
			continue
		}
		lines = append(lines, contentLine{text: line, heading: heading})
	}
	return lines
}

// guessTitle prefers the first markdown heading, then the first title-cased short line
func guessTitle(lines []contentLine) (string, bool) {
	for _, line := range lines {
		if line.heading && len(line.text) > 3 && len(line.text) < 120 {
			return cleanTitle(line.text), true
		}
	}
	for _, line := range lines {
		if looksLikeTitle(line.text) && !metadataPrefix.MatchString(line.text) {
			return cleanTitle(line.text), false
		}
	}
	return "", false
}

// looksLikeTitle accepts short lines where at least half the words are capitalized
func looksLikeTitle(line string) bool {
	words := strings.Fields(line)
	if len(words) < 2 || len(words) > 15 || len(line) > 100 {
		return false
	}
	capitals := 0
	for _, word := range words {
		if word[0] >= 'A' && word[0] <= 'Z' {
			capitals++
		}
	}
	return float64(capitals)/float64(len(words)) >= 0.5
}

func cleanTitle(line string) string {
	title := strings.TrimSpace(strings.Trim(line, "#*_ "))
	for _, prefix := range []string{"Event:", "Show:", "Concert:", "Presents:"} {
		if strings.HasPrefix(title, prefix) {
			title = strings.TrimSpace(title[len(prefix):])
		}
	}
	return title
}

// longestParagraph picks the longest non-metadata line of prose
func longestParagraph(lines []contentLine) string {
	best := ""
	for _, line := range lines {
		if line.heading || metadataPrefix.MatchString(line.text) || len(strings.Fields(line.text)) < 8 {
			continue
		}
		if len(line.text) > len(best) {
			best = line.text
		}
	}
	return best
}
