package score

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
	require.Equal(t, "baseline-v1", Default().Version)
}

func TestLoadFileFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
version: tuned-v2
thresholds:
  escalate_severity: 80
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "tuned-v2", cfg.Version)
	require.Equal(t, 80.0, cfg.Thresholds.EscalateSeverity)
	// Unspecified fields keep the baseline values.
	require.Equal(t, Default().Weights, cfg.Weights)
	require.Equal(t, Default().SimilarityThreshold, cfg.SimilarityThreshold)
}

func TestLoadFileDerivesVersionFromContent(t *testing.T) {
	pathA := writeConfig(t, "max_hops: 3\n")

	cfgA, err := LoadFile(pathA)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(cfgA.Version, "sha256-"))

	// Same content, same derived version.
	cfgB, err := LoadFile(writeConfig(t, "max_hops: 3\n"))
	require.NoError(t, err)
	require.Equal(t, cfgA.Version, cfgB.Version)

	// Different tuning, different version.
	cfgC, err := LoadFile(writeConfig(t, "max_hops: 4\n"))
	require.NoError(t, err)
	require.NotEqual(t, cfgA.Version, cfgC.Version)
}

func TestLoadFileRejectsDegenerateConfig(t *testing.T) {
	path := writeConfig(t, `
weights:
  magnitude: 0
  role: 0
  specificity: 0
  recency: 0
`)
	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateBounds(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"similarity":     func(c *Config) { c.SimilarityThreshold = 1.5 },
		"hops":           func(c *Config) { c.MaxHops = 0 },
		"floor":          func(c *Config) { c.StrengthFloor = 0 },
		"family penalty": func(c *Config) { c.FamilyInterestPenalty = 2 },
		"fuzzy discount": func(c *Config) { c.FuzzyMatchDiscount = -1 },
		"weights":        func(c *Config) { c.Weights.Role = -0.1 },
	} {
		cfg := Default()
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}
