package venue

import (
	"os"
	"sort"
	"strings"
	"sync"

	"event-extraction-engine/internal/models"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultMinKeyLength is the shortest normalized key used for containment matching
const DefaultMinKeyLength = 4

// Registry holds known venues. The base set is immutable after construction;
// Learn writes to a session overlay that never shadows a base entry.
type Registry struct {
	base     map[string]models.VenueRecord
	baseKeys []string

	mu         sync.RWMutex
	learned    map[string]models.VenueRecord
	learnedKey []string

	minKeyLength int
}

// Match is a registry hit and how it was found
type Match struct {
	Record     models.VenueRecord
	Key        string
	Confidence float64
}

// NewRegistry builds a registry from name -> record. Map keys and record names
// are both indexed after normalization.
func NewRegistry(records map[string]models.VenueRecord) *Registry {
	r := &Registry{
		base:         make(map[string]models.VenueRecord, len(records)),
		learned:      make(map[string]models.VenueRecord),
		minKeyLength: DefaultMinKeyLength,
	}

	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		record := records[name]
		if record.CanonicalName == "" {
			record.CanonicalName = name
		}
		for _, key := range []string{Normalize(name), Normalize(record.CanonicalName), record.NormalizedKey} {
			if key == "" {
				continue
			}
			if _, exists := r.base[key]; exists {
				continue
			}
			record.NormalizedKey = Normalize(record.CanonicalName)
			r.base[key] = record
		}
	}

	for key := range r.base {
		r.baseKeys = append(r.baseKeys, key)
	}
	sort.Strings(r.baseKeys)
	return r
}

// SetMinKeyLength changes the containment key floor; values below 1 are ignored
func (r *Registry) SetMinKeyLength(n int) {
	if n > 0 {
		r.minKeyLength = n
	}
}

// Len returns the number of indexed keys, base and learned
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.base) + len(r.learned)
}

// Lookup is a direct normalized-key hit against base then learned entries
func (r *Registry) Lookup(name string) (models.VenueRecord, bool) {
	key := Normalize(name)
	if key == "" {
		return models.VenueRecord{}, false
	}
	if record, ok := r.base[key]; ok {
		return record, true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.learned[key]
	return record, ok
}

// MatchContaining finds the longest key contained in name, or containing name,
// on word boundaries. A non-empty city rejects records from another region.
// Confidence scales from 0.6 to 0.8 with how much of the longer string the overlap covers.
func (r *Registry) MatchContaining(name, city string) (Match, bool) {
	query := Normalize(name)
	if len(query) < r.minKeyLength {
		return Match{}, false
	}
	cityKey := Normalize(city)

	var best Match
	found := false
	consider := func(key string, record models.VenueRecord) {
		if len(key) < r.minKeyLength {
			return
		}
		if cityKey != "" && record.Region != "" && Normalize(record.Region) != cityKey {
			return
		}

		var overlap, total int
		switch {
		case indexWord(query, key) >= 0:
			overlap, total = len(key), len(query)
		case indexWord(key, query) >= 0:
			overlap, total = len(query), len(key)
		default:
			return
		}

		// keys arrive sorted, so on equal length the first one seen wins
		if found && len(key) <= len(best.Key) {
			return
		}
		best = Match{
			Record:     record,
			Key:        key,
			Confidence: 0.6 + 0.2*float64(overlap)/float64(total),
		}
		found = true
	}

	for _, key := range r.baseKeys {
		consider(key, r.base[key])
	}

	r.mu.RLock()
	for _, key := range r.learnedKey {
		if _, shadowed := r.base[key]; !shadowed {
			consider(key, r.learned[key])
		}
	}
	r.mu.RUnlock()

	return best, found
}

// Learn adds a venue to the session overlay. It reports false when the name
// is empty, already known, or the record has no address.
func (r *Registry) Learn(record models.VenueRecord) bool {
	key := Normalize(record.CanonicalName)
	if key == "" || strings.TrimSpace(record.Address) == "" {
		return false
	}
	if _, ok := r.base[key]; ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.learned[key]; ok {
		return false
	}
	record.NormalizedKey = key
	r.learned[key] = record

	idx := sort.SearchStrings(r.learnedKey, key)
	r.learnedKey = append(r.learnedKey, "")
	copy(r.learnedKey[idx+1:], r.learnedKey[idx:])
	r.learnedKey[idx] = key
	return true
}

// Learned returns the overlay entries in key order
func (r *Registry) Learned() []models.VenueRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.VenueRecord, 0, len(r.learnedKey))
	for _, key := range r.learnedKey {
		out = append(out, r.learned[key])
	}
	return out
}

type registryFile struct {
	Venues []struct {
		Name    string   `yaml:"name"`
		Address string   `yaml:"address"`
		Region  string   `yaml:"region"`
		Aliases []string `yaml:"aliases"`
	} `yaml:"venues"`
}

// LoadRegistryFile reads a YAML venue list; each alias becomes an extra key for the same record
func LoadRegistryFile(path string) (map[string]models.VenueRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read venue registry")
	}

	var file registryFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, eris.Wrap(err, "failed to parse venue registry")
	}

	records := make(map[string]models.VenueRecord, len(file.Venues))
	for i, v := range file.Venues {
		if strings.TrimSpace(v.Name) == "" || strings.TrimSpace(v.Address) == "" {
			return nil, eris.Errorf("venue %d: name and address are required", i)
		}
		record := models.VenueRecord{
			CanonicalName: v.Name,
			NormalizedKey: Normalize(v.Name),
			Address:       v.Address,
			Region:        v.Region,
		}
		records[v.Name] = record
		for _, alias := range v.Aliases {
			if strings.TrimSpace(alias) != "" {
				records[alias] = record
			}
		}
	}
	return records, nil
}
