package extraction

import (
	"sort"
	"strings"

	"event-extraction-engine/internal/models"
)

// CategoryMapper maps free text onto at most two categories from the closed set
type CategoryMapper interface {
	Map(text string) []string
}

// KeywordCategoryMapper counts lexicon hits per category on word boundaries
type KeywordCategoryMapper struct {
	lexicon map[string][]string
}

// defaultLexicon is intentionally small; deployments supply their own through NewKeywordCategoryMapper
var defaultLexicon = map[string][]string{
	models.CategoryMusic:     {"concert", "live music", "band", "dj", "jazz", "rock", "hip hop", "orchestra", "symphony", "gig", "tour", "album release", "acoustic"},
	models.CategoryNightlife: {"club", "party", "nightlife", "dance party", "21+", "late night", "drag", "cocktail"},
	models.CategoryArts:      {"art", "gallery", "exhibition", "theater", "theatre", "dance", "ballet", "opera", "museum", "poetry"},
	models.CategoryComedy:    {"comedy", "stand-up", "standup", "improv", "comedian", "open mic"},
	models.CategoryFoodDrink: {"food", "wine", "beer", "tasting", "brewery", "dinner", "brunch", "chef", "market", "pop-up"},
	models.CategorySports:    {"game", "match", "race", "marathon", "tournament", "yoga", "fitness", "run", "soccer", "basketball"},
	models.CategoryCommunity: {"community", "meetup", "volunteer", "fundraiser", "benefit", "rally", "neighborhood", "festival", "fair"},
	models.CategoryFamily:    {"family", "kids", "children", "all ages", "storytime", "toddler", "parents"},
	models.CategoryFilm:      {"film", "movie", "screening", "cinema", "documentary", "premiere"},
	models.CategoryEducation: {"workshop", "class", "lecture", "talk", "seminar", "course", "panel", "training"},
}

// NewKeywordCategoryMapper builds a mapper; a nil lexicon uses the built-in one.
// Categories outside the closed set are ignored.
func NewKeywordCategoryMapper(lexicon map[string][]string) *KeywordCategoryMapper {
	if lexicon == nil {
		lexicon = defaultLexicon
	}
	m := &KeywordCategoryMapper{lexicon: map[string][]string{}}
	for category, keywords := range lexicon {
		if !models.ValidateCategory(category) {
			continue
		}
		for _, keyword := range keywords {
			if keyword = strings.ToLower(strings.TrimSpace(keyword)); keyword != "" {
				m.lexicon[category] = append(m.lexicon[category], keyword)
			}
		}
	}
	return m
}

// Map returns the top categories by hit count, ties broken by category name
func (m *KeywordCategoryMapper) Map(text string) []string {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return nil
	}

	type score struct {
		category string
		hits     int
	}
	var scores []score
	for category, keywords := range m.lexicon {
		hits := 0
		for _, keyword := range keywords {
			hits += countWord(lower, keyword)
		}
		if hits > 0 {
			scores = append(scores, score{category, hits})
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].hits != scores[j].hits {
			return scores[i].hits > scores[j].hits
		}
		return scores[i].category < scores[j].category
	})

	var categories []string
	for _, s := range scores {
		categories = append(categories, s.category)
		if len(categories) == models.MaxCategories {
			break
		}
	}
	return categories
}

// countWord counts occurrences of needle in haystack that sit on word boundaries
func countWord(haystack, needle string) int {
	count, from := 0, 0
	for from < len(haystack) {
		idx := strings.Index(haystack[from:], needle)
		if idx < 0 {
			break
		}
		idx += from
		end := idx + len(needle)
		if (idx == 0 || !isWordChar(haystack[idx-1])) && (end == len(haystack) || !isWordChar(haystack[end])) {
			count++
		}
		from = idx + 1
	}
	return count
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
