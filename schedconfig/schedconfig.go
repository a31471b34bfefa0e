// Package schedconfig holds scheduler-wide configuration: bundle/bank
// sizing, memory capacities and the eviction policy, loadable from YAML.
// Grounded on config.DeviceBuilder's fluent value-receiver builder.
package schedconfig

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/heracles-asm/variable"
)

// Defaults match spec.md's stated constants.
const (
	DefaultMaxBundle        = 64
	DefaultBankCount        = 4
	DefaultRegistersPerBank = 64
	DefaultSpadCapacity     = 1 << 16
	DefaultHBMCapacity      = 1 << 24
)

// Config is the fully resolved set of knobs the co-scheduler runs with.
type Config struct {
	MaxBundle         int                        `yaml:"max_bundle"`
	BankCount         int                        `yaml:"bank_count"`
	RegistersPerBank  int                        `yaml:"registers_per_bank"`
	SpadCapacityWords int                        `yaml:"spad_capacity_words"`
	HBMCapacityWords  int                        `yaml:"hbm_capacity_words"`
	ReplacementPolicy variable.ReplacementPolicy `yaml:"-"`
	EnableXInstFetch  bool                        `yaml:"enable_xinstfetch"`

	// ReplacementPolicyName is the YAML-facing string form of
	// ReplacementPolicy ("ftbu" or "lru"); Builder.Build resolves it.
	ReplacementPolicyName string `yaml:"replacement_policy"`
}

// Builder is a fluent, value-receiver builder in the teacher's
// DeviceBuilder style.
type Builder struct {
	cfg Config
}

// NewBuilder starts from spec.md's documented defaults.
func NewBuilder() Builder {
	return Builder{cfg: Config{
		MaxBundle:             DefaultMaxBundle,
		BankCount:             DefaultBankCount,
		RegistersPerBank:      DefaultRegistersPerBank,
		SpadCapacityWords:     DefaultSpadCapacity,
		HBMCapacityWords:      DefaultHBMCapacity,
		EnableXInstFetch:      true,
		ReplacementPolicyName: "ftbu",
	}}
}

// WithMaxBundle sets the maximum XInsts per bundle.
func (b Builder) WithMaxBundle(n int) Builder { b.cfg.MaxBundle = n; return b }

// WithBankCount sets the number of register banks.
func (b Builder) WithBankCount(n int) Builder { b.cfg.BankCount = n; return b }

// WithRegistersPerBank sets the register count per bank.
func (b Builder) WithRegistersPerBank(n int) Builder { b.cfg.RegistersPerBank = n; return b }

// WithSpadCapacityWords sets SPAD's word capacity.
func (b Builder) WithSpadCapacityWords(n int) Builder { b.cfg.SpadCapacityWords = n; return b }

// WithHBMCapacityWords sets HBM's word capacity.
func (b Builder) WithHBMCapacityWords(n int) Builder { b.cfg.HBMCapacityWords = n; return b }

// WithReplacementPolicy sets the eviction policy by name ("ftbu" or "lru").
func (b Builder) WithReplacementPolicy(name string) Builder {
	b.cfg.ReplacementPolicyName = name
	return b
}

// WithEnableXInstFetch toggles whether `xinstfetch` is actually emitted
// into CInstQ (spec.md §9's open question, resolved in SPEC_FULL.md §7).
func (b Builder) WithEnableXInstFetch(enable bool) Builder {
	b.cfg.EnableXInstFetch = enable
	return b
}

// FromYAML merges fields present in a YAML document onto the builder's
// current state.
func (b Builder) FromYAML(raw []byte) (Builder, error) {
	if err := yaml.Unmarshal(raw, &b.cfg); err != nil {
		return b, errors.Wrap(err, "schedconfig: parsing yaml")
	}
	return b, nil
}

// FromYAMLFile reads and merges a YAML document from path.
func (b Builder) FromYAMLFile(path string) (Builder, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return b, errors.Wrap(err, "schedconfig: reading config file")
	}
	return b.FromYAML(raw)
}

// Build validates and finalizes the configuration.
func (b Builder) Build() (Config, error) {
	cfg := b.cfg
	switch cfg.ReplacementPolicyName {
	case "ftbu", "":
		cfg.ReplacementPolicy = variable.FTBU
	case "lru":
		cfg.ReplacementPolicy = variable.LRU
	default:
		return Config{}, errors.Errorf("schedconfig: unknown replacement policy %q", cfg.ReplacementPolicyName)
	}
	if cfg.MaxBundle < 1 {
		return Config{}, errors.Errorf("schedconfig: max_bundle must be >= 1, got %d", cfg.MaxBundle)
	}
	if cfg.BankCount < 2 {
		return Config{}, errors.Errorf("schedconfig: bank_count must be >= 2 (bank 0 is staging), got %d", cfg.BankCount)
	}
	if cfg.RegistersPerBank < 1 {
		return Config{}, errors.Errorf("schedconfig: registers_per_bank must be >= 1, got %d", cfg.RegistersPerBank)
	}
	if cfg.SpadCapacityWords < 1 || cfg.HBMCapacityWords < 1 {
		return Config{}, errors.New("schedconfig: spad/hbm capacities must be positive")
	}
	return cfg, nil
}
