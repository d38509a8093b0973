package score

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Weights are the relative contributions of each severity factor.
type Weights struct {
	Magnitude   float64 `yaml:"magnitude"`
	Role        float64 `yaml:"role"`
	Specificity float64 `yaml:"specificity"`
	Recency     float64 `yaml:"recency"`
}

// Thresholds drive the recommendation tiering.
type Thresholds struct {
	EscalateSeverity   float64 `yaml:"escalate_severity"`
	EscalateConfidence float64 `yaml:"escalate_confidence"`
	FlagSeverity       float64 `yaml:"flag_severity"`
	MonitorSeverity    float64 `yaml:"monitor_severity"`
}

// Config is the versioned scoring configuration. Every detection records the
// version it was computed under so historical results stay explainable after
// weight tuning. No mutable global: callers pass the value explicitly.
type Config struct {
	Version    string     `yaml:"version"`
	Weights    Weights    `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`

	// SimilarityThreshold is the fuzzy-match floor used by the normalizer.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// MaxHops and StrengthFloor bound influence network traversal.
	MaxHops       int     `yaml:"max_hops"`
	StrengthFloor float64 `yaml:"strength_floor"`

	// FamilyInterestPenalty is the fixed confidence multiplier applied to
	// family-interest candidates.
	FamilyInterestPenalty float64 `yaml:"family_interest_penalty"`

	// FuzzyMatchDiscount is the confidence multiplier for fuzzy-resolved
	// entities.
	FuzzyMatchDiscount float64 `yaml:"fuzzy_match_discount"`
}

// Default returns the baseline configuration.
func Default() Config {
	cfg := Config{
		Version: "baseline-v1",
		Weights: Weights{
			Magnitude:   0.35,
			Role:        0.25,
			Specificity: 0.25,
			Recency:     0.15,
		},
		Thresholds: Thresholds{
			EscalateSeverity:   70,
			EscalateConfidence: 0.6,
			FlagSeverity:       40,
			MonitorSeverity:    10,
		},
		SimilarityThreshold:   0.92,
		MaxHops:               2,
		StrengthFloor:         0.15,
		FamilyInterestPenalty: 0.75,
		FuzzyMatchDiscount:    0.7,
	}
	return cfg
}

// LoadFile reads a YAML scoring config, filling gaps from the defaults. A
// file without an explicit version gets one derived from its content hash so
// two different tunings can never share a version id.
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read scoring config %s: %w", path, err)
	}

	cfg := Default()
	cfg.Version = ""
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse scoring config %s: %w", path, err)
	}
	if cfg.Version == "" {
		sum := sha256.Sum256(raw)
		cfg.Version = "sha256-" + hex.EncodeToString(sum[:])[:12]
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("scoring config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would make scoring degenerate.
func (c Config) Validate() error {
	total := c.Weights.Magnitude + c.Weights.Role + c.Weights.Specificity + c.Weights.Recency
	if total <= 0 {
		return fmt.Errorf("factor weights sum to %v, must be positive", total)
	}
	if c.Weights.Magnitude < 0 || c.Weights.Role < 0 || c.Weights.Specificity < 0 || c.Weights.Recency < 0 {
		return fmt.Errorf("factor weights must be non-negative")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold %v out of (0, 1]", c.SimilarityThreshold)
	}
	if c.MaxHops <= 0 {
		return fmt.Errorf("max hops must be positive")
	}
	if c.StrengthFloor <= 0 || c.StrengthFloor > 1 {
		return fmt.Errorf("strength floor %v out of (0, 1]", c.StrengthFloor)
	}
	if c.FamilyInterestPenalty <= 0 || c.FamilyInterestPenalty > 1 {
		return fmt.Errorf("family interest penalty %v out of (0, 1]", c.FamilyInterestPenalty)
	}
	if c.FuzzyMatchDiscount <= 0 || c.FuzzyMatchDiscount > 1 {
		return fmt.Errorf("fuzzy match discount %v out of (0, 1]", c.FuzzyMatchDiscount)
	}
	return nil
}
