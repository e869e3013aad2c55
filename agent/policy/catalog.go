package policy

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

//go:embed catalog.yaml
var catalogRaw []byte

// Catalog is the static business-rule table the local tools evaluate
// against. It is loaded once at bootstrap and never mutated.
type Catalog struct {
	DefaultWindowDays int                     `yaml:"default_window_days"`
	Categories        map[string]Category     `yaml:"categories"`
	ConditionFactors  map[string]float64      `yaml:"condition_factors"`
	Reasons           map[string]ReasonRule   `yaml:"reasons"`
	Tones             map[string]ToneTemplate `yaml:"tones"`
}

type Category struct {
	WindowDays        int     `yaml:"window_days"`
	RestockingPercent float64 `yaml:"restocking_percent"`
}

// ReasonRule describes how a stated return reason adjusts the refund.
// SellerFault reasons waive restocking fees and reimburse shipping.
type ReasonRule struct {
	SellerFault       bool    `yaml:"seller_fault"`
	ShippingCredit    float64 `yaml:"shipping_credit"`
	ShippingDeduction float64 `yaml:"shipping_deduction"`
}

type ToneTemplate struct {
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`
}

// Load parses the embedded catalog. Invalid embedded data is a build
// mistake, so failures map to ErrConfiguration.
func Load() (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(catalogRaw, &c); err != nil {
		return nil, fmt.Errorf("%w: parse policy catalog: %v", contractx.ErrConfiguration, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) validate() error {
	if c.DefaultWindowDays <= 0 {
		return fmt.Errorf("%w: default_window_days must be > 0", contractx.ErrConfiguration)
	}
	if len(c.ConditionFactors) == 0 {
		return fmt.Errorf("%w: condition_factors is empty", contractx.ErrConfiguration)
	}
	for name, f := range c.ConditionFactors {
		if f < 0 || f > 1 {
			return fmt.Errorf("%w: condition factor %q out of [0,1]", contractx.ErrConfiguration, name)
		}
	}
	for name, cat := range c.Categories {
		if cat.WindowDays <= 0 {
			return fmt.Errorf("%w: category %q window_days must be > 0", contractx.ErrConfiguration, name)
		}
		if cat.RestockingPercent < 0 || cat.RestockingPercent > 100 {
			return fmt.Errorf("%w: category %q restocking_percent out of [0,100]", contractx.ErrConfiguration, name)
		}
	}
	return nil
}

// WindowDays returns the eligibility window for a category, falling back to
// the default window for unknown categories.
func (c *Catalog) WindowDays(category string) int {
	if cat, ok := c.Categories[normalize(category)]; ok {
		return cat.WindowDays
	}
	return c.DefaultWindowDays
}

// RestockingPercent returns the category restocking fee as a percentage of
// price. Unknown categories carry no fee.
func (c *Catalog) RestockingPercent(category string) float64 {
	if cat, ok := c.Categories[normalize(category)]; ok {
		return cat.RestockingPercent
	}
	return 0
}

// ConditionFactor returns the refundable fraction of price for an item
// condition. Unknown conditions are treated as fully refundable.
func (c *Catalog) ConditionFactor(condition string) float64 {
	if f, ok := c.ConditionFactors[normalize(condition)]; ok {
		return f
	}
	return 1
}

// Reason returns the refund rule for a stated reason. Unknown reasons are
// customer-initiated with no shipping adjustment.
func (c *Catalog) Reason(reason string) ReasonRule {
	if r, ok := c.Reasons[normalize(reason)]; ok {
		return r
	}
	return ReasonRule{}
}

// Tone returns the formatting template for a tone, defaulting to neutral
// passthrough when the tone is unknown.
func (c *Catalog) Tone(tone string) ToneTemplate {
	if t, ok := c.Tones[normalize(tone)]; ok {
		return t
	}
	return ToneTemplate{}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
