package application

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-consensus/infrastructure/stages"
	"github.com/ahrav/go-consensus/internal/domain"
)

var validate = validator.New()

// Config assembles every stage's parameters plus the driver's own
// scheduling knobs. The zero value is not usable; start from
// DefaultConfig and override fields, or load a YAML file with
// LoadConfig.
type Config struct {
	// KeepFreeCPU reserves CPUs when sizing the per-criterion worker
	// pool. The pool always keeps at least one worker.
	KeepFreeCPU int `yaml:"keep_n_free_cpu" json:"keep_n_free_cpu" validate:"gte=0"`

	// Criteria restricts a run to the named criteria. Empty means every
	// criterion present in the snapshot.
	Criteria []domain.Criterion `yaml:"criteria" json:"criteria"`

	// Trust configures trust propagation over the vouch graph.
	Trust stages.TrustConfig `yaml:"trust" json:"trust"`

	// Voting configures per-entity voting rights.
	Voting stages.VotingConfig `yaml:"voting_rights" json:"voting_rights"`

	// Preference configures per-user preference learning.
	Preference stages.PreferenceConfig `yaml:"preference" json:"preference"`

	// Scaling configures the cross-user scale calibration.
	Scaling stages.ScalingConfig `yaml:"scaling" json:"scaling"`

	// Normalize configures the global standardization and anchor.
	Normalize stages.NormalizeConfig `yaml:"normalize" json:"normalize"`

	// Aggregate configures the collective score quantiles.
	Aggregate stages.AggregateConfig `yaml:"aggregation" json:"aggregation"`

	// Squash configures the display mapping.
	Squash stages.SquashConfig `yaml:"squash" json:"squash"`
}

// DefaultConfig returns the production defaults for every stage.
// The normalization anchor target is derived from the aggregation
// Lipschitz constant so that a freshly anchored distribution sits just
// above the aggregator's resolution.
func DefaultConfig() Config {
	cfg := Config{
		KeepFreeCPU: 0,
		Trust:       stages.DefaultTrustConfig(),
		Voting:      stages.DefaultVotingConfig(),
		Preference:  stages.DefaultPreferenceConfig(),
		Scaling:     stages.DefaultScalingConfig(),
		Normalize:   stages.DefaultNormalizeConfig(),
		Aggregate:   stages.DefaultAggregateConfig(),
		Squash:      stages.DefaultSquashConfig(),
	}
	cfg.Normalize.TargetScore = 2 * cfg.Aggregate.Lipschitz
	return cfg
}

// Validate checks the whole configuration tree.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML configuration file, overlaying its values on
// the defaults so partial files stay valid. A target score of zero is
// re-derived from the configured aggregation Lipschitz constant.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration bytes on top of the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Normalize.TargetScore == 0 {
		cfg.Normalize.TargetScore = 2 * cfg.Aggregate.Lipschitz
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
