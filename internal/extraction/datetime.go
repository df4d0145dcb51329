package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	isoDateLayout = "2006-01-02"
	clockLayout   = "15:04:05"
)

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

const monthAlternation = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

var (
	isoDatePattern      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	monthDayPattern     = regexp.MustCompile(`(?i)\b(` + monthAlternation + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4})\b)?`)
	dayMonthPattern     = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(` + monthAlternation + `)\.?,?\s+(\d{4})\b`)
	numericDatePattern  = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{2}|\d{4})\b`)
	timeRangePattern    = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?\s*(?:-|–|—|to|until)\s*(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)(?:[^a-z]|$)`)
	meridiemTimePattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)(?:[^a-z]|$)`)
	clockTimePattern    = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	namedTimePattern    = regexp.MustCompile(`(?i)\b(noon|midnight)\b`)
)

// dateMatch is a calendar date found in free text
type dateMatch struct {
	ISO     string
	HasYear bool
}

// findDate returns the first recognizable date in text as YYYY-MM-DD. Dates without
// a year take ref's year, rolling forward when that lands well in the past.
func findDate(text string, ref time.Time) (dateMatch, bool) {
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		if iso, ok := buildDate(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3])); ok {
			return dateMatch{ISO: iso, HasYear: true}, true
		}
	}

	if m := monthDayPattern.FindStringSubmatch(text); m != nil {
		month := monthNames[strings.ToLower(m[1])]
		day := atoi(m[2])
		if m[3] != "" {
			if iso, ok := buildDate(atoi(m[3]), month, day); ok {
				return dateMatch{ISO: iso, HasYear: true}, true
			}
		} else if iso, ok := inferYear(month, day, ref); ok {
			return dateMatch{ISO: iso}, true
		}
	}

	if m := dayMonthPattern.FindStringSubmatch(text); m != nil {
		if iso, ok := buildDate(atoi(m[3]), monthNames[strings.ToLower(m[2])], atoi(m[1])); ok {
			return dateMatch{ISO: iso, HasYear: true}, true
		}
	}

	if m := numericDatePattern.FindStringSubmatch(text); m != nil {
		year := atoi(m[3])
		if year < 100 {
			year += 2000
		}
		if iso, ok := buildDate(year, time.Month(atoi(m[1])), atoi(m[2])); ok {
			return dateMatch{ISO: iso, HasYear: true}, true
		}
	}

	return dateMatch{}, false
}

func inferYear(month time.Month, day int, ref time.Time) (string, bool) {
	if ref.IsZero() {
		ref = time.Now()
	}
	candidate := time.Date(ref.Year(), month, day, 0, 0, 0, 0, time.UTC)
	if candidate.Day() != day || candidate.Month() != month {
		return "", false
	}
	if candidate.Before(ref.AddDate(0, 0, -60)) {
		candidate = candidate.AddDate(1, 0, 0)
	}
	return candidate.Format(isoDateLayout), true
}

func buildDate(year int, month time.Month, day int) (string, bool) {
	if year < 1900 || month < time.January || month > time.December || day < 1 {
		return "", false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return "", false
	}
	return t.Format(isoDateLayout), true
}

// timeMatch is a start (and optional end) clock time in HH:mm:ss
type timeMatch struct {
	Start    string
	End      string
	Meridiem bool
}

// findTimes returns the first time range or single time in text
func findTimes(text string) (timeMatch, bool) {
	if m := timeRangePattern.FindStringSubmatch(text); m != nil {
		endMeridiem := strings.ToLower(m[6])
		startMeridiem := strings.ToLower(m[3])
		startHour, endHour := atoi(m[1]), atoi(m[4])
		if startMeridiem == "" {
			startMeridiem = endMeridiem
			// "11-1pm" crosses noon
			if startHour <= 12 && endHour < 12 && startHour > endHour && isPM(endMeridiem) {
				startMeridiem = "am"
			}
		}
		start, okStart := clock12(startHour, atoi(m[2]), startMeridiem)
		end, okEnd := clock12(endHour, atoi(m[5]), endMeridiem)
		if okStart && okEnd {
			return timeMatch{Start: start, End: end, Meridiem: true}, true
		}
	}

	if m := meridiemTimePattern.FindStringSubmatch(text); m != nil {
		if start, ok := clock12(atoi(m[1]), atoi(m[2]), m[3]); ok {
			return timeMatch{Start: start, Meridiem: true}, true
		}
	}

	if m := clockTimePattern.FindStringSubmatch(text); m != nil {
		return timeMatch{Start: formatClock(atoi(m[1]), atoi(m[2]))}, true
	}

	if m := namedTimePattern.FindStringSubmatch(text); m != nil {
		if strings.EqualFold(m[1], "noon") {
			return timeMatch{Start: "12:00:00"}, true
		}
		return timeMatch{Start: "00:00:00"}, true
	}

	return timeMatch{}, false
}

func isPM(meridiem string) bool {
	return strings.HasPrefix(strings.ToLower(meridiem), "p")
}

func clock12(hour, minute int, meridiem string) (string, bool) {
	if hour < 1 || hour > 12 || minute < 0 || minute > 59 {
		return "", false
	}
	hour %= 12
	if isPM(meridiem) {
		hour += 12
	}
	return formatClock(hour, minute), true
}

func formatClock(hour, minute int) string {
	return time.Date(2000, 1, 1, hour, minute, 0, 0, time.UTC).Format(clockLayout)
}

// parseISODateTime reads schema.org style dates ("2024-09-01", "2024-09-01T20:00:00-07:00").
// The wall-clock time is kept as written; hasTime is false for date-only values.
func parseISODateTime(value string) (date, clock string, hasTime bool, ok bool) {
	value = strings.TrimSpace(value)
	layouts := []struct {
		layout  string
		hasTime bool
	}{
		{time.RFC3339, true},
		{"2006-01-02T15:04:05Z0700", true},
		{"2006-01-02T15:04Z07:00", true},
		{"2006-01-02T15:04:05", true},
		{"2006-01-02T15:04", true},
		{"2006-01-02 15:04:05", true},
		{"2006-01-02 15:04", true},
		{isoDateLayout, false},
	}

	for _, l := range layouts {
		t, err := time.Parse(l.layout, value)
		if err != nil {
			continue
		}
		date = t.Format(isoDateLayout)
		if l.hasTime {
			clock = t.Format(clockLayout)
		}
		return date, clock, l.hasTime, true
	}
	return "", "", false, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
