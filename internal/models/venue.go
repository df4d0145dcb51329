package models

// VenueRecord is one known venue in the registry
type VenueRecord struct {
	CanonicalName string `json:"canonicalName" yaml:"name" dynamodbav:"canonical_name"`
	NormalizedKey string `json:"normalizedKey" yaml:"key,omitempty" dynamodbav:"PK"`
	Address       string `json:"address" yaml:"address" dynamodbav:"address"`
	Region        string `json:"region" yaml:"region,omitempty" dynamodbav:"region"`
}

// ScoredImage is one ranked image candidate
type ScoredImage struct {
	URL          string   `json:"url"`
	Index        int      `json:"index"` // position in the input list, used for tie-breaks
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	Ratio        float64  `json:"ratio"`
	Estimated    bool     `json:"estimated,omitempty"` // dimensions guessed from byte size
	RatioScore   float64  `json:"ratioScore"`
	SizeScore    float64  `json:"sizeScore"`
	FlyerScore   float64  `json:"flyerScore"`
	QualityScore float64  `json:"qualityScore"`
	ContextScore float64  `json:"contextScore"`
	OCRScore     *float64 `json:"ocrScore,omitempty"`
	TotalScore   float64  `json:"totalScore"`
}
