package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// HeuristicsVersion identifies the threshold/keyword set below; bump it whenever a
// boundary moves so stored results can be traced back to the rules that produced them.
const HeuristicsVersion = "2024.1"

type Pipeline struct {
	EnableEarlyTermination    bool          `yaml:"enable_early_termination"`
	EarlyTerminationThreshold float64       `yaml:"early_termination_threshold"`
	OCRTriggerThreshold       float64       `yaml:"ocr_trigger_threshold"`
	LayerTimeout              time.Duration `yaml:"layer_timeout"`
	OCRTimeout                time.Duration `yaml:"ocr_timeout"`
	MinConfidence             float64       `yaml:"min_confidence"`
	MaxFlyerImages            int           `yaml:"max_flyer_images"`
	LearnVenues               bool          `yaml:"learn_venues"`
}

type Merge struct {
	FieldWeights map[string]float64 `yaml:"field_weights"`
}

type Venue struct {
	DefaultCity  string            `yaml:"default_city"`
	RegistryFile string            `yaml:"registry_file"`
	CacheSize    int               `yaml:"cache_size"`
	CacheTTL     time.Duration     `yaml:"cache_ttl"`
	DefaultAddrs map[string]string `yaml:"default_addresses"` // normalized venue -> address
	KnownCities  []string          `yaml:"known_cities"`
	MinKeyLength int               `yaml:"min_key_length"`
}

// Heuristics is the single versioned home of every image-scoring threshold and lexicon
type Heuristics struct {
	Version         string    `yaml:"version"`
	MinDimension    int       `yaml:"min_dimension"`
	IdealDimension  int       `yaml:"ideal_dimension"`
	OCRDimension    int       `yaml:"ocr_dimension"`
	RatioPeaks      []float64 `yaml:"ratio_peaks"`
	RatioTolerance  float64   `yaml:"ratio_tolerance"`
	RatioFloor      float64   `yaml:"ratio_floor"`
	ExtremeRatioLow float64   `yaml:"extreme_ratio_low"`
	ExtremeRatioHi  float64   `yaml:"extreme_ratio_high"`
	ExtremeScore    float64   `yaml:"extreme_score"`
	FlyerKeywords   []string  `yaml:"flyer_keywords"`
	AvoidKeywords   []string  `yaml:"avoid_keywords"`
	OCRKeywords     []string  `yaml:"ocr_keywords"`
	ThumbPatterns   []string  `yaml:"thumb_patterns"`
	CDNHosts        []string  `yaml:"cdn_hosts"`
	Weights         Weights   `yaml:"weights"`
	OCRWeight       float64   `yaml:"ocr_weight"`
}

// Weights are the non-OCR component weights of an image's total score
type Weights struct {
	Ratio   float64 `yaml:"ratio"`
	Size    float64 `yaml:"size"`
	Flyer   float64 `yaml:"flyer"`
	Quality float64 `yaml:"quality"`
	Context float64 `yaml:"context"`
}

type Images struct {
	Heuristics   Heuristics    `yaml:"heuristics"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	ProbeBytes   int64         `yaml:"probe_bytes"`
	ProbeRPS     float64       `yaml:"probe_rps"`
	ProbeBurst   int           `yaml:"probe_burst"`
}

type OCR struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
}

type Fetch struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	UserAgents   []string      `yaml:"user_agents"` // replaces the built-in rotation when set
}

type AWS struct {
	Region     string `yaml:"region"`
	Profile    string `yaml:"profile"`
	BucketName string `yaml:"bucket_name"`
	KeyPrefix  string `yaml:"key_prefix"`
	VenueTable string `yaml:"venue_table"`
}

type Server struct {
	ListenAddress string        `yaml:"listen_address"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`
	Merge    Merge    `yaml:"merge"`
	Venue    Venue    `yaml:"venue"`
	Images   Images   `yaml:"images"`
	OCR      OCR      `yaml:"ocr"`
	Fetch    Fetch    `yaml:"fetch"`
	AWS      AWS      `yaml:"aws"`
	Server   Server   `yaml:"server"`
}

// DefaultHeuristics returns the current image-scoring rule set
func DefaultHeuristics() Heuristics {
	return Heuristics{
		Version:         HeuristicsVersion,
		MinDimension:    200,
		IdealDimension:  800,
		OCRDimension:    600,
		RatioPeaks:      []float64{1.0, 0.8, 0.5625},
		RatioTolerance:  0.25,
		RatioFloor:      0.3,
		ExtremeRatioLow: 0.5,
		ExtremeRatioHi:  2.0,
		ExtremeScore:    0.1,
		FlyerKeywords:   []string{"flyer", "poster", "featured", "hero", "event", "promo", "banner", "lineup"},
		AvoidKeywords:   []string{"thumb", "icon", "avatar", "logo", "sprite", "placeholder", "pixel", "spacer", "favicon", "emoji"},
		OCRKeywords:     []string{"flyer", "poster", "lineup", "schedule", "announcement", "info"},
		ThumbPatterns:   []string{"thumb", "-150x150", "-300x300", "_small", "/small/", "w=100", "width=100", "s=64"},
		CDNHosts:        []string{"cloudinary.com", "imgix.net", "cloudfront.net", "akamaized.net", "fastly", "wp.com", "squarespace-cdn.com", "shopify.com", "evbuc.com", "ctfassets.net"},
		Weights:         Weights{Ratio: 0.4, Size: 0.25, Flyer: 0.2, Quality: 0.1, Context: 0.05},
		OCRWeight:       0.1,
	}
}

// Default returns a configuration with every default filled in
func Default() *Config {
	return &Config{
		Pipeline: Pipeline{
			EnableEarlyTermination:    true,
			EarlyTerminationThreshold: 85,
			OCRTriggerThreshold:       60,
			LayerTimeout:              4 * time.Second,
			OCRTimeout:                30 * time.Second,
			MinConfidence:             40,
			MaxFlyerImages:            2,
			LearnVenues:               true,
		},
		Merge: Merge{FieldWeights: map[string]float64{}},
		Venue: Venue{
			DefaultCity:  "San Francisco",
			CacheSize:    1024,
			CacheTTL:     30 * time.Minute,
			DefaultAddrs: map[string]string{},
			KnownCities: []string{
				"san francisco", "oakland", "berkeley", "san jose", "palo alto", "austin",
				"new york", "brooklyn", "los angeles", "seattle", "chicago", "portland",
			},
			MinKeyLength: 4,
		},
		Images: Images{
			Heuristics:   DefaultHeuristics(),
			ProbeTimeout: 5 * time.Second,
			ProbeBytes:   64 * 1024,
			ProbeRPS:     8,
			ProbeBurst:   4,
		},
		OCR: OCR{
			Enabled:   true,
			Model:     "gpt-4o-mini",
			MaxTokens: 1500,
		},
		Fetch: Fetch{
			Timeout:      45 * time.Second,
			MaxRetries:   3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     10 * time.Second,
			MaxBodyBytes: 5 * 1024 * 1024,
		},
		AWS: AWS{
			Region:     "us-west-2",
			BucketName: "event-extraction-results",
			KeyPrefix:  "events",
			VenueTable: "venues",
		},
		Server: Server{
			ListenAddress: ":8080",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  90 * time.Second,
		},
	}
}

// Load reads a YAML config file on top of the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read config")
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, eris.Wrap(err, "failed to parse config yaml")
	}

	c.fillDefaults()
	return c, nil
}

// fillDefaults restores defaults for fields a partial YAML file zeroed out
func (c *Config) fillDefaults() {
	d := Default()

	if c.Pipeline.LayerTimeout == 0 {
		c.Pipeline.LayerTimeout = d.Pipeline.LayerTimeout
	}
	if c.Pipeline.OCRTimeout == 0 {
		c.Pipeline.OCRTimeout = d.Pipeline.OCRTimeout
	}
	if c.Pipeline.MaxFlyerImages == 0 {
		c.Pipeline.MaxFlyerImages = d.Pipeline.MaxFlyerImages
	}
	if c.Merge.FieldWeights == nil {
		c.Merge.FieldWeights = map[string]float64{}
	}
	if c.Venue.DefaultCity == "" {
		c.Venue.DefaultCity = d.Venue.DefaultCity
	}
	if c.Venue.CacheSize == 0 {
		c.Venue.CacheSize = d.Venue.CacheSize
	}
	if c.Venue.CacheTTL == 0 {
		c.Venue.CacheTTL = d.Venue.CacheTTL
	}
	if len(c.Venue.KnownCities) == 0 {
		c.Venue.KnownCities = d.Venue.KnownCities
	}
	if c.Venue.MinKeyLength == 0 {
		c.Venue.MinKeyLength = d.Venue.MinKeyLength
	}
	if c.Venue.DefaultAddrs == nil {
		c.Venue.DefaultAddrs = map[string]string{}
	}

	h := &c.Images.Heuristics
	dh := d.Images.Heuristics
	if h.Version == "" {
		h.Version = dh.Version
	}
	if h.MinDimension == 0 {
		h.MinDimension = dh.MinDimension
	}
	if h.IdealDimension == 0 {
		h.IdealDimension = dh.IdealDimension
	}
	if h.OCRDimension == 0 {
		h.OCRDimension = dh.OCRDimension
	}
	if len(h.RatioPeaks) == 0 {
		h.RatioPeaks = dh.RatioPeaks
	}
	if h.RatioTolerance == 0 {
		h.RatioTolerance = dh.RatioTolerance
	}
	if h.RatioFloor == 0 {
		h.RatioFloor = dh.RatioFloor
	}
	if h.ExtremeRatioLow == 0 {
		h.ExtremeRatioLow = dh.ExtremeRatioLow
	}
	if h.ExtremeRatioHi == 0 {
		h.ExtremeRatioHi = dh.ExtremeRatioHi
	}
	if h.ExtremeScore == 0 {
		h.ExtremeScore = dh.ExtremeScore
	}
	if len(h.FlyerKeywords) == 0 {
		h.FlyerKeywords = dh.FlyerKeywords
	}
	if len(h.AvoidKeywords) == 0 {
		h.AvoidKeywords = dh.AvoidKeywords
	}
	if len(h.OCRKeywords) == 0 {
		h.OCRKeywords = dh.OCRKeywords
	}
	if len(h.ThumbPatterns) == 0 {
		h.ThumbPatterns = dh.ThumbPatterns
	}
	if len(h.CDNHosts) == 0 {
		h.CDNHosts = dh.CDNHosts
	}
	if h.Weights == (Weights{}) {
		h.Weights = dh.Weights
	}
	if h.OCRWeight == 0 {
		h.OCRWeight = dh.OCRWeight
	}

	if c.Images.ProbeTimeout == 0 {
		c.Images.ProbeTimeout = d.Images.ProbeTimeout
	}
	if c.Images.ProbeBytes == 0 {
		c.Images.ProbeBytes = d.Images.ProbeBytes
	}
	if c.Images.ProbeRPS == 0 {
		c.Images.ProbeRPS = d.Images.ProbeRPS
	}
	if c.Images.ProbeBurst == 0 {
		c.Images.ProbeBurst = d.Images.ProbeBurst
	}
	if c.OCR.Model == "" {
		c.OCR.Model = d.OCR.Model
	}
	if c.OCR.MaxTokens == 0 {
		c.OCR.MaxTokens = d.OCR.MaxTokens
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = d.Fetch.Timeout
	}
	if c.Fetch.InitialDelay == 0 {
		c.Fetch.InitialDelay = d.Fetch.InitialDelay
	}
	if c.Fetch.MaxDelay == 0 {
		c.Fetch.MaxDelay = d.Fetch.MaxDelay
	}
	if c.Fetch.MaxBodyBytes == 0 {
		c.Fetch.MaxBodyBytes = d.Fetch.MaxBodyBytes
	}
	if c.AWS.Region == "" {
		c.AWS.Region = d.AWS.Region
	}
	if c.AWS.KeyPrefix == "" {
		c.AWS.KeyPrefix = d.AWS.KeyPrefix
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = d.Server.ListenAddress
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = d.Server.WriteTimeout
	}
}

// ApplyEnv overrides settings from environment variables
func (c *Config) ApplyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OCR.APIKey = v
	}
	if v := os.Getenv("S3_BUCKET_NAME"); v != "" {
		c.AWS.BucketName = v
	}
	if v := os.Getenv("VENUE_TABLE_NAME"); v != "" {
		c.AWS.VenueTable = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.AWS.Region = v
	}
	if v := os.Getenv("VENUE_REGISTRY_FILE"); v != "" {
		c.Venue.RegistryFile = v
	}
	if v := os.Getenv("DEFAULT_CITY"); v != "" {
		c.Venue.DefaultCity = v
	}
	if v, ok := envFloat("EXTRACT_OCR_TRIGGER_THRESHOLD"); ok {
		c.Pipeline.OCRTriggerThreshold = v
	}
	if v, ok := envFloat("EXTRACT_EARLY_TERMINATION_THRESHOLD"); ok {
		c.Pipeline.EarlyTerminationThreshold = v
	}
	if v, ok := envFloat("EXTRACT_MIN_CONFIDENCE"); ok {
		c.Pipeline.MinConfidence = v
	}
	if v := os.Getenv("EXTRACT_EARLY_TERMINATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Pipeline.EnableEarlyTermination = b
		}
	}
	if v := os.Getenv("EXTRACT_LAYER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Pipeline.LayerTimeout = d
		}
	}
	if v := os.Getenv("EXTRACT_OCR_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.OCR.Enabled = b
		}
	}
}

// Validate checks ranges that would make the pipeline misbehave
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.OCRTriggerThreshold < 0 || p.OCRTriggerThreshold > 100 {
		return eris.Errorf("ocr_trigger_threshold must be 0-100, got %v", p.OCRTriggerThreshold)
	}
	if p.EarlyTerminationThreshold < 0 || p.EarlyTerminationThreshold > 100 {
		return eris.Errorf("early_termination_threshold must be 0-100, got %v", p.EarlyTerminationThreshold)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 100 {
		return eris.Errorf("min_confidence must be 0-100, got %v", p.MinConfidence)
	}
	if p.LayerTimeout <= 0 || p.OCRTimeout <= 0 {
		return eris.New("layer timeouts must be positive")
	}
	if p.MaxFlyerImages < 0 {
		return eris.Errorf("max_flyer_images must not be negative, got %d", p.MaxFlyerImages)
	}
	for field, weight := range c.Merge.FieldWeights {
		if weight <= 0 {
			return eris.Errorf("field weight for %s must be positive, got %v", field, weight)
		}
	}
	if c.Venue.CacheSize <= 0 || c.Venue.CacheTTL <= 0 {
		return eris.New("venue cache size and ttl must be positive")
	}
	if strings.TrimSpace(c.Venue.DefaultCity) == "" {
		return eris.New("venue default_city is required")
	}
	h := c.Images.Heuristics
	if h.MinDimension <= 0 || h.IdealDimension < h.MinDimension || h.OCRDimension < h.MinDimension {
		return eris.Errorf("image dimension floors out of order: min=%d ideal=%d ocr=%d", h.MinDimension, h.IdealDimension, h.OCRDimension)
	}
	return nil
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
