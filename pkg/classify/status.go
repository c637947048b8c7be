package classify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/HatiCode/hydrastral/pkg/adapters"
)

// Flow status labels.
const (
	NoData          = "No Data"
	MuchBelowNormal = "Much Below Normal"
	BelowNormal     = "Below Normal"
	Normal          = "Normal"
	AboveNormal     = "Above Normal"
	MuchAboveNormal = "Much Above Normal"
)

// Flood status labels, most severe first.
const (
	MajorFlood    = "Major Flood"
	ModerateFlood = "Moderate Flood"
	MinorFlood    = "Minor Flood"
	ActionStage   = "Action Stage"
)

// Bands holds the four ascending cut points that split the percentile axis
// into five flow-status bands:
//
//	[0, MuchBelow)        Much Below Normal
//	[MuchBelow, Below)    Below Normal
//	[Below, Above)        Normal
//	[Above, MuchAbove)    Above Normal
//	[MuchAbove, 100]      Much Above Normal
type Bands struct {
	MuchBelow float64
	Below     float64
	Above     float64
	MuchAbove float64
}

// DefaultBands are the USGS WaterWatch breaks.
var DefaultBands = Bands{MuchBelow: 5, Below: 25, Above: 75, MuchAbove: 95}

// Validate checks the cut points are strictly ascending inside (0, 100).
func (b Bands) Validate() error {
	cuts := []float64{b.MuchBelow, b.Below, b.Above, b.MuchAbove}
	prev := 0.0
	for _, c := range cuts {
		if c <= prev || c >= 100 {
			return fmt.Errorf("flow bands %v must be strictly ascending within (0, 100)", cuts)
		}
		prev = c
	}
	return nil
}

// Status maps a percentile to its flow-status label.
func (b Bands) Status(p float64) string {
	switch {
	case p < b.MuchBelow:
		return MuchBelowNormal
	case p < b.Below:
		return BelowNormal
	case p < b.Above:
		return Normal
	case p < b.MuchAbove:
		return AboveNormal
	default:
		return MuchAboveNormal
	}
}

// ParseBands parses "5,25,75,95".
func ParseBands(s string) (Bands, error) {
	v, err := parseCuts(s, 4)
	if err != nil {
		return Bands{}, fmt.Errorf("flow bands: %w", err)
	}
	b := Bands{MuchBelow: v[0], Below: v[1], Above: v[2], MuchAbove: v[3]}
	if err := b.Validate(); err != nil {
		return Bands{}, err
	}
	return b, nil
}

// DroughtTiers holds the percentile cut points of the U.S. Drought Monitor
// tiers. A percentile strictly below a cut point falls in that tier; the
// most severe tier wins.
type DroughtTiers struct {
	D4 float64
	D3 float64
	D2 float64
	D1 float64
	D0 float64
}

// DefaultDroughtTiers follows USDM streamflow percentiles.
var DefaultDroughtTiers = DroughtTiers{D4: 2, D3: 5, D2: 10, D1: 20, D0: 30}

// Validate checks the cut points are strictly ascending from D4 to D0.
func (d DroughtTiers) Validate() error {
	cuts := []float64{d.D4, d.D3, d.D2, d.D1, d.D0}
	prev := 0.0
	for _, c := range cuts {
		if c <= prev || c > 100 {
			return fmt.Errorf("drought tiers %v must be strictly ascending within (0, 100]", cuts)
		}
		prev = c
	}
	return nil
}

// Status returns the drought label for a percentile, or nil outside drought.
func (d DroughtTiers) Status(p float64) *string {
	var label string
	switch {
	case p < d.D4:
		label = "D4 - Exceptional Drought"
	case p < d.D3:
		label = "D3 - Extreme Drought"
	case p < d.D2:
		label = "D2 - Severe Drought"
	case p < d.D1:
		label = "D1 - Moderate Drought"
	case p < d.D0:
		label = "D0 - Abnormally Dry"
	default:
		return nil
	}
	return &label
}

// ParseDroughtTiers parses "2,5,10,20,30". The value "off" disables drought
// classification and returns nil.
func ParseDroughtTiers(s string) (*DroughtTiers, error) {
	if strings.EqualFold(strings.TrimSpace(s), "off") {
		return nil, nil
	}
	v, err := parseCuts(s, 5)
	if err != nil {
		return nil, fmt.Errorf("drought tiers: %w", err)
	}
	d := DroughtTiers{D4: v[0], D3: v[1], D2: v[2], D1: v[3], D0: v[4]}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// FloodStatus compares a gage height with flood stages, most severe first.
// It returns nil when either input is missing or the height is below every
// defined stage.
func FloodStatus(gageHeight *float64, stages *adapters.FloodStages) *string {
	if gageHeight == nil || stages == nil {
		return nil
	}
	h := *gageHeight
	for _, s := range []struct {
		stage *float64
		label string
	}{
		{stages.Major, MajorFlood},
		{stages.Moderate, ModerateFlood},
		{stages.Minor, MinorFlood},
		{stages.Action, ActionStage},
	} {
		if s.stage != nil && h >= *s.stage {
			label := s.label
			return &label
		}
	}
	return nil
}

func parseCuts(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated values, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}
