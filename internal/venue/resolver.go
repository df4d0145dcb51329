package venue

import (
	"context"
	"strings"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/models"

	"go.uber.org/zap"
)

// Strategy names the cascade stage that produced a Result
type Strategy string

const (
	StrategyStructured    Strategy = "structured"
	StrategyRegistry      Strategy = "registry"
	StrategyRegistryFuzzy Strategy = "registry-fuzzy"
	StrategyExtractedName Strategy = "extracted-name"
	StrategyGeocoder      Strategy = "geocoder"
	StrategyDefault       Strategy = "default"
)

// Hints carry what the merged record already knows about the location
type Hints struct {
	Venue string
	City  string
}

// Result is a resolved venue and formatted address. Confidence is 0-1.
type Result struct {
	Venue      string   `json:"venue,omitempty"`
	Address    string   `json:"address"`
	City       string   `json:"city,omitempty"`
	Confidence float64  `json:"confidence"`
	Strategy   Strategy `json:"strategy"`
}

// Resolution converts the result for an ExtractionResult envelope
func (r Result) Resolution() *models.Resolution {
	return &models.Resolution{
		Venue:      r.Venue,
		Address:    r.Address,
		City:       r.City,
		Confidence: r.Confidence,
		Strategy:   string(r.Strategy),
	}
}

// GeocodeResult is an address from an external geocoding service
type GeocodeResult struct {
	Address    string
	Confidence float64
}

// Geocoder is an optional external lookup consulted after the registry stages
type Geocoder interface {
	Geocode(ctx context.Context, query, city string) (GeocodeResult, error)
}

const maxGeocoderConfidence = 0.85

// Resolver runs the venue/address cascade:
// structured address, registry, extracted venue name, geocoder, intelligent default.
type Resolver struct {
	registry    *Registry
	cache       *Cache
	geocoder    Geocoder
	defaultCity string
	knownCities []string
	logger      *zap.Logger
}

// NewResolver creates a resolver over registry; a nil registry behaves as empty
func NewResolver(registry *Registry, cfg config.Venue, logger *zap.Logger) *Resolver {
	if registry == nil {
		registry = NewRegistry(nil)
	}
	if cfg.MinKeyLength > 0 {
		registry.SetMinKeyLength(cfg.MinKeyLength)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		registry:    registry,
		cache:       NewCache(cfg.CacheSize, cfg.CacheTTL),
		defaultCity: cfg.DefaultCity,
		knownCities: cfg.KnownCities,
		logger:      logger.Named("resolver"),
	}
}

// WithGeocoder enables the geocoding stage
func (r *Resolver) WithGeocoder(g Geocoder) *Resolver {
	r.geocoder = g
	return r
}

// Registry returns the registry backing the resolver
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Cache returns the result cache
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve never fails: when every stage misses, the intelligent default
// synthesizes "{fragment}, {city}". The returned address always contains a comma
// unless both raw and hints are empty.
func (r *Resolver) Resolve(ctx context.Context, raw string, hints Hints) Result {
	raw = strings.TrimSpace(raw)
	hints.Venue = strings.TrimSpace(hints.Venue)
	hints.City = strings.TrimSpace(hints.City)

	if raw == "" && hints.Venue == "" {
		return Result{City: firstNonEmpty(hints.City, r.defaultCity), Strategy: StrategyDefault}
	}

	key := Normalize(raw) + "|" + Normalize(hints.Venue) + "|" + Normalize(hints.City)
	if cached, ok := r.cache.Get(key); ok {
		return cached
	}

	result := r.resolve(ctx, raw, hints)
	result.Address = FormatAddress(result.Address, result.City)

	r.logger.Debug("venue resolved",
		zap.String("raw", raw),
		zap.String("venue", result.Venue),
		zap.String("address", result.Address),
		zap.String("strategy", string(result.Strategy)),
		zap.Float64("confidence", result.Confidence))

	// a cancelled geocoder call is not a stable answer
	if ctx.Err() == nil {
		r.cache.Set(key, result)
	}
	return result
}

func (r *Resolver) resolve(ctx context.Context, raw string, hints Hints) Result {
	parts := splitAddressText(raw, r.knownCities)
	explicitCity := firstNonEmpty(parts.City, hints.City)
	city := firstNonEmpty(explicitCity, r.defaultCity)

	// 1. already a street address
	if raw != "" && looksLikeStreetAddress(raw) {
		result := Result{Venue: hints.Venue, City: city, Strategy: StrategyStructured}
		switch {
		case strings.Contains(raw, ","):
			result.Address, result.Confidence = raw, 0.95
		case parts.City != "":
			result.Address, result.Confidence = parts.Street+", "+parts.City, 0.92
		default:
			result.Address, result.Confidence = raw, 0.9
		}
		return result
	}

	var names []string
	for _, name := range []string{hints.Venue, streetName(parts), raw} {
		if name != "" && !containsNormalized(names, name) {
			names = append(names, name)
		}
	}

	// 2. registry, direct then containment
	for _, name := range names {
		if record, ok := r.registry.Lookup(name); ok {
			return r.fromRecord(record, city, 0.9, StrategyRegistry)
		}
	}
	if match, ok := r.bestContainment(names, explicitCity); ok {
		return r.fromRecord(match.Record, city, match.Confidence, StrategyRegistryFuzzy)
	}

	// 3. venue name pulled out of address-like text
	var extracted []string
	for _, name := range names {
		candidate := extractVenueName(name, r.knownCities)
		if len(Normalize(candidate)) >= r.registry.minKeyLength && !containsNormalized(extracted, candidate) {
			extracted = append(extracted, candidate)
		}
	}
	for _, name := range extracted {
		if record, ok := r.registry.Lookup(name); ok {
			return r.fromRecord(record, city, 0.7, StrategyExtractedName)
		}
	}
	if match, ok := r.bestContainment(extracted, explicitCity); ok {
		// containment confidence 0.6-0.8 maps onto 0.5-0.6 at this stage
		return r.fromRecord(match.Record, city, 0.5+(match.Confidence-0.6)/2, StrategyExtractedName)
	}

	venueName := firstNonEmpty(hints.Venue, streetName(parts))
	if venueName == "" && parts.Street == "" && len(extracted) > 0 {
		venueName = extracted[0]
	}

	// 4. optional geocoder
	if r.geocoder != nil {
		geo, err := r.geocoder.Geocode(ctx, firstNonEmpty(raw, hints.Venue), city)
		switch {
		case err != nil:
			r.logger.Warn("geocoder failed", zap.String("raw", raw), zap.Error(err))
		case strings.TrimSpace(geo.Address) != "":
			confidence := geo.Confidence
			if confidence <= 0 || confidence > maxGeocoderConfidence {
				confidence = maxGeocoderConfidence
			}
			return Result{Venue: venueName, Address: geo.Address, City: city, Confidence: confidence, Strategy: StrategyGeocoder}
		}
	}

	// 5. intelligent default
	result := Result{Venue: venueName, City: city, Strategy: StrategyDefault}
	switch {
	case parts.Street != "":
		result.Address, result.Confidence = parts.Street, 0.4
	case hints.Venue != "":
		result.Address, result.Confidence = hints.Venue, 0.3
	default:
		result.Address, result.Confidence = firstNonEmpty(venueName, raw), 0.2
	}
	return result
}

// LearnResolved adds a confidently resolved venue to the registry overlay.
// Only structured or geocoded addresses with a named venue are learned.
func (r *Resolver) LearnResolved(result Result) bool {
	if result.Venue == "" || result.Confidence < 0.9 {
		return false
	}
	if result.Strategy != StrategyStructured && result.Strategy != StrategyGeocoder {
		return false
	}

	return r.Learn(models.VenueRecord{
		CanonicalName: result.Venue,
		Address:       result.Address,
		Region:        result.City,
	})
}

// Learn adds record to the registry overlay and drops cached results so
// later lookups see it.
func (r *Resolver) Learn(record models.VenueRecord) bool {
	if !r.registry.Learn(record) {
		return false
	}
	r.cache.Purge()
	r.logger.Info("venue learned", zap.String("venue", record.CanonicalName), zap.String("address", record.Address))
	return true
}

func (r *Resolver) fromRecord(record models.VenueRecord, city string, confidence float64, strategy Strategy) Result {
	return Result{
		Venue:      record.CanonicalName,
		Address:    record.Address,
		City:       firstNonEmpty(record.Region, city),
		Confidence: confidence,
		Strategy:   strategy,
	}
}

func (r *Resolver) bestContainment(names []string, city string) (Match, bool) {
	var best Match
	found := false
	for _, name := range names {
		match, ok := r.registry.MatchContaining(name, city)
		if ok && (!found || match.Confidence > best.Confidence) {
			best, found = match, true
		}
	}
	return best, found
}

// FormatAddress guarantees a "street, city" shape: segments are trimmed, empty or
// repeated neighbours dropped, and the city appended when one segment remains.
func FormatAddress(address, city string) string {
	var segments []string
	for _, segment := range strings.Split(address, ",") {
		segment = strings.Join(strings.Fields(segment), " ")
		if segment == "" {
			continue
		}
		if n := len(segments); n > 0 && strings.EqualFold(segments[n-1], segment) {
			continue
		}
		segments = append(segments, segment)
	}
	if len(segments) == 0 {
		return ""
	}

	// a lone segment still gets the city, even when it repeats it
	city = strings.Join(strings.Fields(city), " ")
	if len(segments) == 1 && city != "" {
		segments = append(segments, city)
	}
	return strings.Join(segments, ", ")
}

// streetName is the venue-name prefix of text that embeds a street, if any
func streetName(parts addressParts) string {
	if parts.Street == "" {
		return ""
	}
	return parts.Name
}

func containsNormalized(values []string, value string) bool {
	key := Normalize(value)
	for _, v := range values {
		if Normalize(v) == key {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
