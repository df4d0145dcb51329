package venue

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode"
	"unicode/utf8"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/models"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_RegistryNamesResolveToRegistryAddress checks that any venue name
// taken verbatim from the registry resolves to that entry's address, with a comma.
func TestProperty_RegistryNamesResolveToRegistryAddress(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("verbatim registry name yields registry address", prop.ForAll(
		func(words []string, number int) bool {
			name := strings.Join(words, " ")
			address := fmt.Sprintf("%d Market St, San Francisco", number)

			registry := NewRegistry(map[string]models.VenueRecord{
				name:         {Address: address},
				"The Chapel": {Address: "777 Valencia St, San Francisco"},
			})
			r := NewResolver(registry, config.Default().Venue, nil)

			got := r.Resolve(context.Background(), name, Hints{})
			return got.Address == address && strings.Contains(got.Address, ",") && got.Confidence >= 0.9
		},
		gen.SliceOfN(3, gen.AlphaString().Map(func(s string) string { return "v" + s })),
		gen.IntRange(1, 9999),
	))

	properties.TestingRun(t)
}

// TestProperty_ResolvedAddressesAlwaysHaveComma checks the formatting post-step
// regardless of which stage produced the address.
func TestProperty_ResolvedAddressesAlwaysHaveComma(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	cfg := config.Default().Venue
	r := NewResolver(testRegistry(), cfg, nil)

	properties.Property("non-empty input yields address with comma", prop.ForAll(
		func(raw string) bool {
			if Normalize(raw) == "" {
				return true
			}
			got := r.Resolve(context.Background(), raw, Hints{})
			// cities outside registry hits come from the input or the default
			fromInput := got.Strategy == StrategyStructured || got.Strategy == StrategyDefault
			if fromInput && got.City != cfg.DefaultCity && !containsFold(raw, got.City) {
				return false
			}
			return strings.Contains(got.Address, ",") && got.Confidence >= 0 && got.Confidence <= 1
		},
		gen.OneGenOf(
			gen.AlphaString(),
			gen.AnyString(),
			gen.UnicodeString(unicode.Latin),
			gen.UnicodeString(unicode.Latin).Map(func(s string) string { return s + " San Francisco" }),
			gen.UnicodeString(unicode.Greek).Map(func(s string) string { return "Ⱥ " + s + " Oakland, CA" }),
			gen.Const("İİİ San Francisco"),
			gen.Const("Ⱥ Club San Francisco"),
			gen.Const("Café Ⱥ, 12 Mission Street, Oakland"),
			gen.Const("The Chapel 777 Valencia Street San Francisco CA"),
			gen.Const("at Fox Theater, 1807 Telegraph Ave, Oakland, CA"),
			gen.Const("131 West 3rd St"),
			gen.IntRange(1, 99999).Map(func(n int) string { return fmt.Sprintf("%d Mission Street", n) }),
		),
	))

	properties.TestingRun(t)
}

// containsFold reports whether some substring of s equals sub under case folding
func containsFold(s, sub string) bool {
	if sub == "" {
		return true
	}
	for i := range s {
		for j := i; j < len(s); {
			_, size := utf8.DecodeRuneInString(s[j:])
			j += size
			if strings.EqualFold(s[i:j], sub) {
				return true
			}
		}
	}
	return false
}

// TestProperty_CacheExpiryTriggersRecompute checks that a cached key becomes a miss
// once its TTL has elapsed and is recomputed by the next Resolve.
func TestProperty_CacheExpiryTriggersRecompute(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("expired entries are recomputed", prop.ForAll(
		func(ttlSeconds int, extraSeconds int) bool {
			clock := newFakeClock()
			geo := &countingGeocoder{address: "500 Howard St, San Francisco"}

			cfg := config.Default().Venue
			cfg.CacheTTL = time.Duration(ttlSeconds) * time.Second
			r := NewResolver(NewRegistry(nil), cfg, nil).WithGeocoder(geo)
			r.cache.now = clock.Now

			ctx := context.Background()
			r.Resolve(ctx, "Some New Club", Hints{})

			clock.Advance(cfg.CacheTTL - time.Millisecond)
			r.Resolve(ctx, "Some New Club", Hints{})
			if geo.calls != 1 {
				return false
			}

			clock.Advance(time.Millisecond + time.Duration(extraSeconds)*time.Second)
			r.Resolve(ctx, "Some New Club", Hints{})
			return geo.calls == 2
		},
		gen.IntRange(1, 3600),
		gen.IntRange(0, 3600),
	))

	properties.TestingRun(t)
}
