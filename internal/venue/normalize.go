// Package venue resolves free-text locations into a venue name and a formatted
// "street, city" address, backed by a known-venue registry and a TTL cache.
package venue

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// Normalize lowercases, strips punctuation and collapses whitespace.
// It is pure so cache and registry keys are deterministic.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '\'' || r == '’' || r == '.':
			continue
		case r == '&':
			if !space {
				b.WriteByte(' ')
			}
			b.WriteString("and ")
			space = true
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

var streetSuffixes = []string{
	"street", "st", "avenue", "ave", "boulevard", "blvd", "road", "rd", "drive", "dr",
	"lane", "ln", "way", "place", "pl", "court", "ct", "terrace", "ter", "parkway", "pkwy",
	"highway", "hwy", "square", "sq", "alley", "plaza", "circle", "cir",
}

// streetPattern matches "<number> <up to five words> <suffix>", e.g. "777 Valencia Street"
var streetPattern = regexp.MustCompile(`(?i)\b\d{1,6}[a-z]?(?:\s+[a-z0-9.'-]+){0,5}?\s+(?:` +
	strings.Join(streetSuffixes, "|") + `)\b\.?`)

var leadingStreetPattern = regexp.MustCompile(`^\s*\d{1,6}[A-Za-z]?\s`)

var stateTokens = map[string]bool{
	"al": true, "ak": true, "az": true, "ar": true, "ca": true, "co": true, "ct": true, "de": true,
	"fl": true, "ga": true, "hi": true, "id": true, "il": true, "in": true, "ia": true, "ks": true,
	"ky": true, "la": true, "me": true, "md": true, "ma": true, "mi": true, "mn": true, "ms": true,
	"mo": true, "mt": true, "ne": true, "nv": true, "nh": true, "nj": true, "nm": true, "ny": true,
	"nc": true, "nd": true, "oh": true, "ok": true, "or": true, "pa": true, "ri": true, "sc": true,
	"sd": true, "tn": true, "tx": true, "ut": true, "vt": true, "va": true, "wa": true, "wv": true,
	"wi": true, "wy": true, "dc": true,
	"california": true, "texas": true, "new york": true, "washington": true, "oregon": true,
	"usa": true, "us": true, "united states": true, "america": true,
}

var leadingPrepositions = []string{"at", "the", "in", "@"}

// addressParts is address-like text split around an embedded street
type addressParts struct {
	Name   string // text before the street, e.g. "The Chapel"
	Street string // "777 Valencia Street"
	City   string // city found in the text, original casing
}

// splitAddressText locates an embedded street and a known city in free text
func splitAddressText(text string, knownCities []string) addressParts {
	var parts addressParts

	loc := streetPattern.FindStringIndex(text)
	if loc != nil {
		parts.Name = strings.Trim(text[:loc[0]], " ,-–|@")
		parts.Street = strings.TrimSpace(text[loc[0]:loc[1]])
		parts.City = findCity(text[loc[1]:], knownCities)
		if parts.City == "" {
			parts.City = firstLocalitySegment(text[loc[1]:])
		}
	} else {
		parts.Name = strings.TrimSpace(text)
		parts.City = findCity(text, knownCities)
	}
	parts.Name = strings.TrimSpace(trimPrepositionWords(parts.Name, []string{"at", "@"}))
	return parts
}

// FindStreet returns the index of the first "<number> <name> <suffix>" street in text, or -1
func FindStreet(text string) int {
	loc := streetPattern.FindStringIndex(text)
	if loc == nil {
		return -1
	}
	return loc[0]
}

// looksLikeStreetAddress reports whether text leads with a number followed by a street suffix
func looksLikeStreetAddress(text string) bool {
	if !leadingStreetPattern.MatchString(text) {
		return false
	}
	loc := streetPattern.FindStringIndex(text)
	return loc != nil && strings.TrimSpace(text[:loc[0]]) == ""
}

// findCity returns the first known city in text with the text's own casing.
// Matching runs on text itself so indices stay valid when lowercasing would
// change byte lengths.
func findCity(text string, knownCities []string) string {
	best, bestAt := "", -1
	for _, city := range knownCities {
		city = strings.ToLower(strings.TrimSpace(city))
		if city == "" {
			continue
		}
		m := cityWordPattern(city).FindStringSubmatchIndex(text)
		if m == nil {
			continue
		}
		idx, end := m[2], m[3]
		if bestAt == -1 || idx < bestAt || (idx == bestAt && end-idx > len(best)) {
			best, bestAt = text[idx:end], idx
		}
	}
	return titleCase(best)
}

var (
	cityPatternMu sync.Mutex
	cityPatterns  = map[string][2]*regexp.Regexp{}
)

func cityPatternsFor(city string) [2]*regexp.Regexp {
	cityPatternMu.Lock()
	defer cityPatternMu.Unlock()

	if p, ok := cityPatterns[city]; ok {
		return p
	}
	quoted := regexp.QuoteMeta(city)
	p := [2]*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:^|[^a-z0-9])(` + quoted + `)(?:$|[^a-z0-9])`),
		regexp.MustCompile(`(?i)[^a-z0-9](` + quoted + `)$`),
	}
	cityPatterns[city] = p
	return p
}

// cityWordPattern matches city case-insensitively on word boundaries
func cityWordPattern(city string) *regexp.Regexp {
	return cityPatternsFor(city)[0]
}

// citySuffixPattern matches city at the end of text after a non-word character
func citySuffixPattern(city string) *regexp.Regexp {
	return cityPatternsFor(city)[1]
}

// firstLocalitySegment takes the first comma segment after a street, e.g. ", Oakland, CA 94612"
func firstLocalitySegment(tail string) string {
	if !strings.HasPrefix(strings.TrimSpace(tail), ",") {
		return ""
	}
	for _, segment := range strings.Split(tail, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if stateTokens[strings.ToLower(strings.Fields(segment)[0])] {
			return ""
		}
		return segment
	}
	return ""
}

// indexWord finds needle in haystack on word boundaries, or -1
func indexWord(haystack, needle string) int {
	from := 0
	for {
		idx := strings.Index(haystack[from:], needle)
		if idx < 0 {
			return -1
		}
		idx += from
		end := idx + len(needle)
		startOK := idx == 0 || !isWordByte(haystack[idx-1])
		endOK := end == len(haystack) || !isWordByte(haystack[end])
		if startOK && endOK {
			return idx
		}
		from = idx + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// extractVenueName strips leading prepositions, everything from the first digit run
// and trailing city/state/country tokens
func extractVenueName(text string, knownCities []string) string {
	name := trimPrepositionWords(strings.TrimSpace(text), leadingPrepositions)

	if idx := strings.IndexFunc(name, unicode.IsDigit); idx >= 0 {
		name = name[:idx]
	}
	name = strings.Trim(name, " ,-–|")

	for {
		trimmed := trimTrailingLocality(name, knownCities)
		if trimmed == name {
			break
		}
		name = trimmed
	}
	return strings.TrimSpace(name)
}

func trimPrepositionWords(text string, words []string) string {
	for {
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return text
		}
		first := strings.ToLower(fields[0])
		stripped := false
		for _, w := range words {
			if first == w {
				text = strings.TrimSpace(text[strings.Index(text, fields[0])+len(fields[0]):])
				stripped = true
				break
			}
		}
		if !stripped {
			return text
		}
	}
}

func trimTrailingLocality(text string, knownCities []string) string {
	text = strings.TrimRight(text, " ,")

	for _, city := range knownCities {
		city = strings.ToLower(strings.TrimSpace(city))
		if city == "" {
			continue
		}
		if m := citySuffixPattern(city).FindStringSubmatchIndex(text); m != nil {
			return strings.TrimRight(text[:m[2]], " ,")
		}
	}

	fields := strings.Fields(text)
	if len(fields) < 2 {
		return text
	}
	for _, n := range []int{2, 1} {
		if len(fields) <= n {
			continue
		}
		tail := strings.ToLower(strings.Join(fields[len(fields)-n:], " "))
		if stateTokens[strings.Trim(tail, ".,")] {
			return strings.TrimRight(strings.Join(fields[:len(fields)-n], " "), " ,")
		}
	}
	return text
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
