package adapters

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultNWSURL is the National Water Prediction Service gauges API.
const DefaultNWSURL = "https://api.water.weather.gov/v1/gauges"

// nwsMissingStage is the placeholder NWS publishes for an undefined category.
const nwsMissingStage = -9999

// NWSAdapter fetches flood-stage categories for a gauge from the NWS gauges
// API. NWS gauges are addressed by their USGS site number.
type NWSAdapter struct {
	// BaseURL is the gauges collection URL; DefaultNWSURL when empty.
	BaseURL string

	// HTTPClient is optional; if nil a client with a 60s timeout is used.
	HTTPClient *http.Client

	UserAgent string
}

// FetchFloodStages returns the action/minor/moderate/major stages for a
// gauge. A gauge unknown to NWS yields a *FetchError of kind NoSuchGauge.
func (n *NWSAdapter) FetchFloodStages(ctx context.Context, gaugeID string) (*FloodStages, error) {
	base := n.BaseURL
	if base == "" {
		base = DefaultNWSURL
	}
	u := strings.TrimRight(base, "/") + "/" + url.PathEscape(gaugeID)

	body, err := newGetter(n.HTTPClient, n.UserAgent, "application/json").get(ctx, gaugeID, u)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fetchErr(gaugeID, TransientNetwork, errors.New("malformed JSON response"))
	}

	cats := gjson.GetBytes(body, "floodCategories")
	stages := &FloodStages{
		GaugeID:  gaugeID,
		Action:   stageValue(cats.Get("action")),
		Minor:    stageValue(cats.Get("minor")),
		Moderate: stageValue(cats.Get("moderate")),
		Major:    stageValue(cats.Get("major")),
	}
	if stages.Empty() {
		return nil, fetchErr(gaugeID, NoDataInRange, errors.New("no flood categories defined"))
	}
	return stages, nil
}

// stageValue accepts both the object form {"stage": 12.5, "flow": ...} and a
// bare number.
func stageValue(r gjson.Result) *float64 {
	if r.IsObject() {
		r = r.Get("stage")
	}
	if r.Type != gjson.Number {
		return nil
	}
	v := r.Float()
	if v <= nwsMissingStage {
		return nil
	}
	return ptr(v)
}
