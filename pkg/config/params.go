package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "15m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// TradingParams are the per-deployment tuning knobs, loaded from a YAML file.
// Every field has a live-trading default so an empty file (or no file) works.
type TradingParams struct {
	// Leverage applied to the account before trading starts.
	Leverage int `yaml:"leverage"`

	// PositionLiveTime is how long a position may stay open before the
	// timeout close fires.
	PositionLiveTime Duration `yaml:"position_live_time"`

	// TakeThresholds are the fractions of the imbalance size at which the two
	// partial take-profits rest beyond the entry price.
	TakeThresholds [2]float64 `yaml:"take_thresholds"`

	// StopModifier is the fraction of the imbalance size the stop trigger
	// sits past the worse of entry and imbalance end.
	StopModifier float64 `yaml:"stop_modifier"`

	// Imbalance detector knobs.
	ImbalanceMinSize float64  `yaml:"imbalance_min_size"` // fraction of price, e.g. 0.004
	ImbalanceWindow  Duration `yaml:"imbalance_window"`
	ImbalanceSettle  Duration `yaml:"imbalance_settle"`
}

// DefaultTradingParams returns the canonical live parameters.
func DefaultTradingParams() TradingParams {
	return TradingParams{
		Leverage:         5,
		PositionLiveTime: Duration(15 * time.Minute),
		TakeThresholds:   [2]float64{0.35, 0.75},
		StopModifier:     0.02,
		ImbalanceMinSize: 0.004,
		ImbalanceWindow:  Duration(3 * time.Minute),
		ImbalanceSettle:  Duration(20 * time.Second),
	}
}

// LoadTradingParams reads the YAML params file at path, overlaying it on the
// defaults. An empty path returns the defaults unchanged.
func LoadTradingParams(path string) (TradingParams, error) {
	params := DefaultTradingParams()
	if path == "" {
		return params, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("read params file: %w", err)
	}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("parse params file: %w", err)
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// Validate rejects parameter combinations that would produce nonsense orders.
func (p TradingParams) Validate() error {
	if p.Leverage < 1 || p.Leverage > 125 {
		return fmt.Errorf("leverage %d out of range [1,125]", p.Leverage)
	}
	if p.PositionLiveTime <= 0 {
		return fmt.Errorf("position_live_time must be positive")
	}
	if p.TakeThresholds[0] <= 0 || p.TakeThresholds[1] <= p.TakeThresholds[0] {
		return fmt.Errorf("take_thresholds must be increasing and positive, got %v", p.TakeThresholds)
	}
	if p.StopModifier < 0 {
		return fmt.Errorf("stop_modifier must be non-negative")
	}
	if p.ImbalanceMinSize <= 0 {
		return fmt.Errorf("imbalance_min_size must be positive")
	}
	return nil
}
