package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/quantfold/leverbt/internal/indicator"
	"github.com/quantfold/leverbt/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SizingMode selects how the entry evaluator computes the margin for a new
// position.
type SizingMode string

const (
	// SizingFixedFraction commits a fixed fraction of current equity.
	SizingFixedFraction SizingMode = "fixed_fraction"
	// SizingEquityTiered commits a different fraction above and below an
	// equity threshold.
	SizingEquityTiered SizingMode = "equity_tiered"
	// SizingOutcomeAdaptive commits a larger fraction after a winning trade
	// and a smaller one after a loss.
	SizingOutcomeAdaptive SizingMode = "outcome_adaptive"
)

// AllSizingModes lists the recognized sizing modes for schema generation.
var AllSizingModes = []any{
	SizingFixedFraction,
	SizingEquityTiered,
	SizingOutcomeAdaptive,
}

// TrailingTier is one (trigger, back) pair of the multi-tier trailing stop.
// Once the favorable excursion from entry reaches TriggerPct, the stop trails
// the peak by BackPct.
type TrailingTier struct {
	TriggerPct float64 `yaml:"trigger_pct" json:"trigger_pct" validate:"gt=0"`
	BackPct    float64 `yaml:"back_pct" json:"back_pct" validate:"gt=0,lt=1"`
}

// TrailingPolicy is the ordered tier list, ascending by trigger. A tier, once
// reached, permanently supersedes the looser ones.
type TrailingPolicy struct {
	Tiers []TrailingTier `yaml:"tiers" json:"tiers" validate:"min=1,dive"`
}

// PartialTPPolicy closes a fraction of the position at the threshold-implied
// price once the favorable excursion reaches TriggerPct.
type PartialTPPolicy struct {
	TriggerPct float64 `yaml:"trigger_pct" json:"trigger_pct" validate:"gt=0"`
	Fraction   float64 `yaml:"fraction" json:"fraction" validate:"gt=0,lt=1"`
}

// ScaleInPolicy grows the committed margin toward a target fraction of
// current equity once unrealized gain reaches TriggerPct.
type ScaleInPolicy struct {
	TriggerPct           float64 `yaml:"trigger_pct" json:"trigger_pct" validate:"gt=0"`
	TargetEquityFraction float64 `yaml:"target_equity_fraction" json:"target_equity_fraction" validate:"gt=0,lte=1"`
}

// DrawdownExitPolicy closes the position in full at the bar close when the
// retracement from the peak exceeds MaxRetracePct.
type DrawdownExitPolicy struct {
	MaxRetracePct float64 `yaml:"max_retrace_pct" json:"max_retrace_pct" validate:"gt=0"`
	// AfterScaleInOnly restricts the rule to positions that have scaled in,
	// matching the configurations where it guards the enlarged exposure.
	AfterScaleInOnly bool `yaml:"after_scale_in_only" json:"after_scale_in_only"`
}

// AdaptiveStopPolicy replaces the base stop multiple with WinMultiple after a
// winning trade and LossMultiple after a losing one. The first trade of a run
// uses the base multiple.
type AdaptiveStopPolicy struct {
	WinMultiple  float64 `yaml:"win_multiple" json:"win_multiple" validate:"gt=0"`
	LossMultiple float64 `yaml:"loss_multiple" json:"loss_multiple" validate:"gt=0"`
}

// SessionWindow restricts entries to bars whose hour of day lies in
// [StartHour, EndHour). A window wrapping midnight is allowed.
type SessionWindow struct {
	StartHour int `yaml:"start_hour" json:"start_hour" validate:"gte=0,lte=23"`
	EndHour   int `yaml:"end_hour" json:"end_hour" validate:"gte=0,lte=24"`
}

// Contains reports whether the given time falls inside the session.
func (w SessionWindow) Contains(t time.Time) bool {
	hour := t.Hour()

	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}

	// Wrapping window, e.g. 22 -> 4.
	return hour >= w.StartHour || hour < w.EndHour
}

// EntryConfig gates the trend-following entry and, optionally, enables the
// mean-reversion entry in ranging regimes.
type EntryConfig struct {
	// MomentumLongMin is the minimum oscillator reading for a long entry.
	MomentumLongMin float64 `yaml:"momentum_long_min" json:"momentum_long_min" validate:"gte=0,lte=100"`
	// MomentumShortMax is the maximum oscillator reading for a short entry.
	MomentumShortMax float64 `yaml:"momentum_short_max" json:"momentum_short_max" validate:"gte=0,lte=100"`
	// MinSpreadPct is the anti-chop filter: minimum |fast-slow|/slow spread.
	// Zero disables the gate.
	MinSpreadPct float64 `yaml:"min_spread_pct" json:"min_spread_pct" validate:"gte=0"`
	// ConfirmBars is how many consecutive bars must agree on the direction
	// before entering. Values below 1 mean no confirmation requirement.
	ConfirmBars int `yaml:"confirm_bars" json:"confirm_bars" validate:"gte=0"`
	// PullbackBandPct requires the close to sit within this band around the
	// fast average. Zero disables the gate.
	PullbackBandPct float64 `yaml:"pullback_band_pct" json:"pullback_band_pct" validate:"gte=0"`
	// MeanReversion enables the band-edge entry policy in ranging regimes.
	MeanReversion bool `yaml:"mean_reversion" json:"mean_reversion"`
	// MomentumOversold and MomentumOverbought bound the oscillator extremes
	// required by the mean-reversion entry.
	MomentumOversold   float64 `yaml:"momentum_oversold" json:"momentum_oversold" validate:"gte=0,lte=100"`
	MomentumOverbought float64 `yaml:"momentum_overbought" json:"momentum_overbought" validate:"gte=0,lte=100"`
}

// ExitConfig holds the non-policy exit knobs.
type ExitConfig struct {
	// SignalFlip closes the position when the directional signal reverses.
	SignalFlip bool `yaml:"signal_flip" json:"signal_flip"`
	// ConfirmBars is how many consecutive opposing bars confirm a flip.
	ConfirmBars int `yaml:"confirm_bars" json:"confirm_bars" validate:"gte=0"`
	// MaxHoldBars closes the position after this many bars. Zero disables.
	MaxHoldBars int `yaml:"max_hold_bars" json:"max_hold_bars" validate:"gte=0"`
}

// SizingConfig computes the margin committed to a new position.
type SizingConfig struct {
	Mode SizingMode `yaml:"mode" json:"mode" validate:"required,oneof=fixed_fraction equity_tiered outcome_adaptive"`
	// BaseFraction is the fraction of equity committed in fixed_fraction
	// mode, and before the first trade outcome in outcome_adaptive mode.
	BaseFraction float64 `yaml:"base_fraction" json:"base_fraction" validate:"gt=0,lte=1"`
	// EquityThreshold splits the tiers in equity_tiered mode.
	EquityThreshold float64 `yaml:"equity_threshold" json:"equity_threshold" validate:"gte=0"`
	AboveFraction   float64 `yaml:"above_fraction" json:"above_fraction" validate:"gte=0,lte=1"`
	BelowFraction   float64 `yaml:"below_fraction" json:"below_fraction" validate:"gte=0,lte=1"`
	// WinFraction and LossFraction apply in outcome_adaptive mode.
	WinFraction  float64 `yaml:"win_fraction" json:"win_fraction" validate:"gte=0,lte=1"`
	LossFraction float64 `yaml:"loss_fraction" json:"loss_fraction" validate:"gte=0,lte=1"`
	// FixedMargin, when set, overrides the fraction-based sizing with an
	// absolute margin amount (clamped to current equity).
	FixedMargin optional.Option[float64] `yaml:"fixed_margin" json:"fixed_margin"`
	// MinMargin refuses entries whose computed margin falls below it.
	MinMargin float64 `yaml:"min_margin" json:"min_margin" validate:"gte=0"`
}

// Config is the full engine configuration.
type Config struct {
	InitialEquity float64 `yaml:"initial_equity" json:"initial_equity" jsonschema:"title=Initial Equity,description=Starting equity for the run" validate:"gt=0"`
	Leverage      float64 `yaml:"leverage" json:"leverage" jsonschema:"title=Leverage,description=Notional exposure per unit of margin" validate:"gt=0"`
	// FeeRate is the single-side fee charged on the notional of every
	// opening and closing leg.
	FeeRate float64 `yaml:"fee_rate" json:"fee_rate" validate:"gte=0"`
	// StopMultiple scales the volatility estimate into the base stop
	// distance from entry.
	StopMultiple float64 `yaml:"stop_multiple" json:"stop_multiple" validate:"gt=0"`

	AdaptiveStop optional.Option[AdaptiveStopPolicy] `yaml:"adaptive_stop" json:"adaptive_stop"`
	Trailing     optional.Option[TrailingPolicy]     `yaml:"trailing" json:"trailing"`
	PartialTP    optional.Option[PartialTPPolicy]    `yaml:"partial_tp" json:"partial_tp"`
	ScaleIn      optional.Option[ScaleInPolicy]      `yaml:"scale_in" json:"scale_in"`
	DrawdownExit optional.Option[DrawdownExitPolicy] `yaml:"drawdown_exit" json:"drawdown_exit"`
	Session      optional.Option[SessionWindow]      `yaml:"session" json:"session"`

	Entry  EntryConfig  `yaml:"entry" json:"entry"`
	Exit   ExitConfig   `yaml:"exit" json:"exit"`
	Sizing SizingConfig `yaml:"sizing" json:"sizing"`

	Indicators indicator.Config `yaml:"indicators" json:"indicators"`

	StartTime optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start of the backtest window"`
	EndTime   optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end of the backtest window"`
}

// UnmarshalYAML implements custom unmarshaling for Config, mapping nullable
// sub-policies onto optionals.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig struct {
		InitialEquity float64             `yaml:"initial_equity"`
		Leverage      float64             `yaml:"leverage"`
		FeeRate       float64             `yaml:"fee_rate"`
		StopMultiple  float64             `yaml:"stop_multiple"`
		AdaptiveStop  *AdaptiveStopPolicy `yaml:"adaptive_stop"`
		Trailing      *TrailingPolicy     `yaml:"trailing"`
		PartialTP     *PartialTPPolicy    `yaml:"partial_tp"`
		ScaleIn       *ScaleInPolicy      `yaml:"scale_in"`
		DrawdownExit  *DrawdownExitPolicy `yaml:"drawdown_exit"`
		Session       *SessionWindow      `yaml:"session"`
		Entry         EntryConfig         `yaml:"entry"`
		Exit          ExitConfig          `yaml:"exit"`
		Sizing        SizingConfig        `yaml:"sizing"`
		Indicators    *indicator.Config   `yaml:"indicators"`
		StartTime     *time.Time          `yaml:"start_time"`
		EndTime       *time.Time          `yaml:"end_time"`
	}

	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.InitialEquity = raw.InitialEquity
	c.Leverage = raw.Leverage
	c.FeeRate = raw.FeeRate
	c.StopMultiple = raw.StopMultiple
	c.Entry = raw.Entry
	c.Exit = raw.Exit
	c.Sizing = raw.Sizing

	if raw.Indicators != nil {
		c.Indicators = *raw.Indicators
	} else {
		c.Indicators = indicator.DefaultConfig()
	}

	c.AdaptiveStop = fromPtr(raw.AdaptiveStop)
	c.Trailing = fromPtr(raw.Trailing)
	c.PartialTP = fromPtr(raw.PartialTP)
	c.ScaleIn = fromPtr(raw.ScaleIn)
	c.DrawdownExit = fromPtr(raw.DrawdownExit)
	c.Session = fromPtr(raw.Session)
	c.StartTime = fromPtr(raw.StartTime)
	c.EndTime = fromPtr(raw.EndTime)

	return nil
}

func fromPtr[T any](p *T) optional.Option[T] {
	if p == nil {
		return optional.None[T]()
	}

	return optional.Some(*p)
}

// Validate checks the configuration, including every sub-policy present.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid engine config", err)
	}

	for _, check := range []struct {
		present func() bool
		value   func() any
	}{
		{c.AdaptiveStop.IsSome, func() any { return c.AdaptiveStop.Unwrap() }},
		{c.Trailing.IsSome, func() any { return c.Trailing.Unwrap() }},
		{c.PartialTP.IsSome, func() any { return c.PartialTP.Unwrap() }},
		{c.ScaleIn.IsSome, func() any { return c.ScaleIn.Unwrap() }},
		{c.DrawdownExit.IsSome, func() any { return c.DrawdownExit.Unwrap() }},
		{c.Session.IsSome, func() any { return c.Session.Unwrap() }},
	} {
		if !check.present() {
			continue
		}

		if err := validate.Struct(check.value()); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid policy config", err)
		}
	}

	if c.Trailing.IsSome() {
		tiers := c.Trailing.Unwrap().Tiers
		for i := 1; i < len(tiers); i++ {
			if tiers[i].TriggerPct <= tiers[i-1].TriggerPct {
				return errors.New(errors.ErrCodeInvalidTier, "trailing tiers must have strictly ascending triggers")
			}
		}
	}

	if err := validate.Struct(c.Indicators); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid indicator config", err)
	}

	return nil
}

// GenerateSchema generates a JSON schema for the engine Config.
func (c *Config) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}
			if strings.Contains(t.String(), "engine.SizingMode") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: AllSizingModes,
				}
			}
			return nil
		},
	}

	schema := reflector.Reflect(c)
	schema.Title = "leverbt-engine-config"
	schema.Description = "Configuration schema for the backtest engine"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON generates a JSON schema string for the engine Config.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(c.GenerateSchema(), "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

// ReferenceConfig is the ETH 15m reference parameter set: 5x leverage, 0.07%
// single-side fee, adaptive ATR stop, 8%->2% trailing, 10%/50% partial
// take-profit and 50%->75% scale-in with a 3% forced drawdown exit.
func ReferenceConfig() Config {
	return Config{
		InitialEquity: 50,
		Leverage:      5,
		FeeRate:       0.0007,
		StopMultiple:  3.5,
		AdaptiveStop: optional.Some(AdaptiveStopPolicy{
			WinMultiple:  3.8,
			LossMultiple: 2.5,
		}),
		Trailing: optional.Some(TrailingPolicy{
			Tiers: []TrailingTier{
				{TriggerPct: 0.08, BackPct: 0.02},
			},
		}),
		PartialTP: optional.Some(PartialTPPolicy{
			TriggerPct: 0.10,
			Fraction:   0.5,
		}),
		ScaleIn: optional.Some(ScaleInPolicy{
			TriggerPct:           0.05,
			TargetEquityFraction: 0.75,
		}),
		DrawdownExit: optional.Some(DrawdownExitPolicy{
			MaxRetracePct:    0.03,
			AfterScaleInOnly: true,
		}),
		Session: optional.None[SessionWindow](),
		Entry: EntryConfig{
			MomentumLongMin:    55,
			MomentumShortMax:   45,
			MomentumOversold:   30,
			MomentumOverbought: 70,
		},
		Exit: ExitConfig{},
		Sizing: SizingConfig{
			Mode:         SizingFixedFraction,
			BaseFraction: 0.5,
		},
		Indicators: indicator.DefaultConfig(),
		StartTime:  optional.None[time.Time](),
		EndTime:    optional.None[time.Time](),
	}
}
