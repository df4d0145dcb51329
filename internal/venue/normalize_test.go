package venue

import "testing"

func TestNormalize(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"The Blue Note", "the blue note"},
		{"  Bottom   of the Hill  ", "bottom of the hill"},
		{"Joe's Pub", "joes pub"},
		{"Rock & Roll Hotel", "rock and roll hotel"},
		{"DNA Lounge (SOMA)", "dna lounge soma"},
		{"St. John's", "st johns"},
		{"", ""},
		{"!!!", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := Normalize(tc.input); got != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, got)
			}
			if again := Normalize(Normalize(tc.input)); again != tc.expected {
				t.Errorf("Expected normalization to be idempotent, got %q", again)
			}
		})
	}
}

func TestSplitAddressText(t *testing.T) {
	cities := []string{"san francisco", "oakland"}

	testCases := []struct {
		input  string
		name   string
		street string
		city   string
	}{
		{"The Chapel 777 Valencia Street San Francisco CA", "The Chapel", "777 Valencia Street", "San Francisco"},
		{"at Fox Theater, 1807 Telegraph Ave, Oakland, CA", "Fox Theater", "1807 Telegraph Ave", "Oakland"},
		{"131 West 3rd St", "", "131 West 3rd St", ""},
		{"1 Main St, Springfield, IL", "", "1 Main St", "Springfield"},
		{"Blue Note", "Blue Note", "", ""},
		{"Ⱥ Club San Francisco", "Ⱥ Club San Francisco", "", "San Francisco"},
		{"İİİ San Francisco", "İİİ San Francisco", "", "San Francisco"},
		{"Café Ⱥ 12 Mission Street OAKLAND", "Café Ⱥ", "12 Mission Street", "Oakland"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			parts := splitAddressText(tc.input, cities)
			if parts.Name != tc.name {
				t.Errorf("Expected name %q, got %q", tc.name, parts.Name)
			}
			if parts.Street != tc.street {
				t.Errorf("Expected street %q, got %q", tc.street, parts.Street)
			}
			if parts.City != tc.city {
				t.Errorf("Expected city %q, got %q", tc.city, parts.City)
			}
		})
	}
}

func TestLooksLikeStreetAddress(t *testing.T) {
	testCases := []struct {
		input    string
		expected bool
	}{
		{"777 Valencia Street", true},
		{"131 W 3rd St, New York", true},
		{"2 Broadway Ave.", true},
		{"The Chapel 777 Valencia Street", false},
		{"21+ show", false},
		{"1999 the year", false},
	}

	for _, tc := range testCases {
		if got := looksLikeStreetAddress(tc.input); got != tc.expected {
			t.Errorf("looksLikeStreetAddress(%q): expected %t, got %t", tc.input, tc.expected, got)
		}
	}
}

func TestExtractVenueName(t *testing.T) {
	cities := []string{"san francisco", "new york"}

	testCases := []struct {
		input    string
		expected string
	}{
		{"at the Independent 628 Divisadero St San Francisco", "Independent"},
		{"The Chapel, San Francisco, CA", "Chapel"},
		{"in Blue Note New York NY", "Blue Note"},
		{"Great American Music Hall", "Great American Music Hall"},
		{"Ⱥ Club San Francisco", "Ⱥ Club"},
		{"İİİ San Francisco", "İİİ"},
	}

	for _, tc := range testCases {
		if got := extractVenueName(tc.input, cities); got != tc.expected {
			t.Errorf("extractVenueName(%q): expected %q, got %q", tc.input, tc.expected, got)
		}
	}
}
