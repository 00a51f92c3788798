package fusion

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/topolens/verity/internal/config"
)

// LoadPolicy reads a fusion policy override from a YAML file. Operators use
// this to experiment with alternative weights and multipliers without
// touching the main config. Zero-valued fields fall back to the base policy.
func LoadPolicy(path string, base config.FusionConfig) (config.FusionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, eris.Wrapf(err, "fusion: read policy %s", path)
	}

	// The YAML has a top-level "fusion" key.
	var wrapper struct {
		Fusion config.FusionConfig `yaml:"fusion"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return base, eris.Wrap(err, "fusion: parse policy")
	}

	merged := base
	override := wrapper.Fusion
	if override.Weights.Infrastructure > 0 {
		merged.Weights.Infrastructure = override.Weights.Infrastructure
	}
	if override.Weights.PipelineConfig > 0 {
		merged.Weights.PipelineConfig = override.Weights.PipelineConfig
	}
	if override.Weights.Trace > 0 {
		merged.Weights.Trace = override.Weights.Trace
	}
	if override.Weights.Metrics > 0 {
		merged.Weights.Metrics = override.Weights.Metrics
	}
	if len(override.CountMultipliers) > 0 {
		merged.CountMultipliers = override.CountMultipliers
	}
	if override.VerifiedThreshold > 0 {
		merged.VerifiedThreshold = override.VerifiedThreshold
	}
	if override.ReviewThreshold > 0 {
		merged.ReviewThreshold = override.ReviewThreshold
	}

	for i := 1; i < len(merged.CountMultipliers); i++ {
		if merged.CountMultipliers[i] < merged.CountMultipliers[i-1] {
			return base, eris.New("fusion: policy count_multipliers must be non-decreasing")
		}
	}
	if merged.ReviewThreshold >= merged.VerifiedThreshold {
		return base, eris.New("fusion: policy review_threshold must be below verified_threshold")
	}

	return merged, nil
}
