package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// NWIS parameter codes.
const (
	ParamDischarge  = "00060"
	ParamGageHeight = "00065"

	// statMean selects daily mean values from the dv service.
	statMean = "00003"
)

// DefaultUSGSURL is the NWIS web services root.
const DefaultUSGSURL = "https://waterservices.usgs.gov/nwis"

// USGSAdapter reads gauge observations from the USGS NWIS web services.
//
// History comes from the daily values service (mean daily discharge,
// parameter 00060, statistic 00003). Current readings come from the
// instantaneous values service, taking the latest point of discharge (00060)
// and gage height (00065). Gauge inventories come from the site service.
//
// Discharge values that are non-positive or equal to the -999999 ice/missing
// code are treated as absent.
type USGSAdapter struct {
	// BaseURL is the NWIS root; DefaultUSGSURL when empty.
	BaseURL string

	// HTTPClient is optional; if nil a client with a 60s timeout is used.
	HTTPClient *http.Client

	// UserAgent overrides the default agent string.
	UserAgent string
}

func (u *USGSAdapter) Name() string { return "usgs" }

func (u *USGSAdapter) baseURL() string {
	if u.BaseURL == "" {
		return DefaultUSGSURL
	}
	return strings.TrimRight(u.BaseURL, "/")
}

// FetchHistory implements Source.
func (u *USGSAdapter) FetchHistory(ctx context.Context, gaugeID string, start time.Time) (*DailySeries, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("sites", gaugeID)
	q.Set("parameterCd", ParamDischarge)
	q.Set("statCd", statMean)
	q.Set("startDT", start.Format("2006-01-02"))
	q.Set("siteStatus", "all")

	body, err := newGetter(u.HTTPClient, u.UserAgent, "application/json").get(ctx, gaugeID, u.baseURL()+"/dv/?"+q.Encode())
	if err != nil {
		return nil, err
	}
	return parseDaily(gaugeID, body)
}

// FetchInstantaneous implements Source.
func (u *USGSAdapter) FetchInstantaneous(ctx context.Context, gaugeID string) (*Reading, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("sites", gaugeID)
	q.Set("parameterCd", ParamDischarge+","+ParamGageHeight)
	q.Set("siteStatus", "all")

	body, err := newGetter(u.HTTPClient, u.UserAgent, "application/json").get(ctx, gaugeID, u.baseURL()+"/iv/?"+q.Encode())
	if err != nil {
		return nil, err
	}
	return parseInstantaneous(gaugeID, body)
}

// ListGauges implements Lister using the NWIS site service. The partition
// must be a two-letter US state code; only active stream sites that publish
// daily discharge are returned.
func (u *USGSAdapter) ListGauges(ctx context.Context, partition string) ([]Gauge, error) {
	q := url.Values{}
	q.Set("format", "rdb")
	q.Set("stateCd", strings.ToLower(partition))
	q.Set("parameterCd", ParamDischarge)
	q.Set("siteType", "ST")
	q.Set("siteStatus", "active")
	q.Set("hasDataTypeCd", "dv")

	body, err := newGetter(u.HTTPClient, u.UserAgent, "text/plain").get(ctx, partition, u.baseURL()+"/site/?"+q.Encode())
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && fe.Kind == NoSuchGauge {
			// The site service answers 404 when a state has no matching sites.
			return nil, nil
		}
		return nil, fmt.Errorf("list gauges for %s: %w", partition, err)
	}
	return parseSiteRDB(partition, body)
}

// seriesFor returns the first timeSeries carrying the given parameter code.
func seriesFor(body []byte, param string) (gjson.Result, bool) {
	var found gjson.Result
	ok := false
	gjson.GetBytes(body, "value.timeSeries").ForEach(func(_, ts gjson.Result) bool {
		if ts.Get("variable.variableCode.0.value").String() != param {
			return true
		}
		if len(ts.Get("values.0.value").Array()) == 0 {
			return true
		}
		found, ok = ts, true
		return false
	})
	return found, ok
}

func parseDaily(gaugeID string, body []byte) (*DailySeries, error) {
	if !gjson.ValidBytes(body) {
		return nil, fetchErr(gaugeID, TransientNetwork, errors.New("malformed JSON response"))
	}

	ts, ok := seriesFor(body, ParamDischarge)
	if !ok {
		return nil, fetchErr(gaugeID, NoDataInRange, errors.New("no daily discharge series"))
	}

	points := ts.Get("values.0.value").Array()
	series := &DailySeries{GaugeID: gaugeID, Values: make([]DailyValue, 0, len(points))}
	for i, p := range points {
		raw := p.Get("dateTime").String()
		if len(raw) < 10 {
			return nil, fetchErr(gaugeID, TransientNetwork, fmt.Errorf("value[%d]: bad dateTime %q", i, raw))
		}
		day, err := time.Parse("2006-01-02", raw[:10])
		if err != nil {
			return nil, fetchErr(gaugeID, TransientNetwork, fmt.Errorf("value[%d]: %w", i, err))
		}

		dv := DailyValue{Date: day}
		if v := p.Get("value"); v.Exists() && v.String() != "" {
			if f := v.Float(); recorded(f) {
				dv.Value = ptr(f)
			}
		}
		series.Values = append(series.Values, dv)
	}

	sort.SliceStable(series.Values, func(i, j int) bool {
		return series.Values[i].Date.Before(series.Values[j].Date)
	})
	return series, nil
}

func parseInstantaneous(gaugeID string, body []byte) (*Reading, error) {
	if !gjson.ValidBytes(body) {
		return nil, fetchErr(gaugeID, TransientNetwork, errors.New("malformed JSON response"))
	}

	reading := &Reading{GaugeID: gaugeID}
	found := false

	for _, param := range []string{ParamDischarge, ParamGageHeight} {
		ts, ok := seriesFor(body, param)
		if !ok {
			continue
		}
		points := ts.Get("values.0.value").Array()
		last := points[len(points)-1]

		at, err := parseInstant(last.Get("dateTime").String())
		if err != nil {
			return nil, fetchErr(gaugeID, TransientNetwork, fmt.Errorf("%s dateTime: %w", param, err))
		}
		found = true

		v := last.Get("value").Float()
		switch param {
		case ParamDischarge:
			if usable(v) {
				reading.Discharge = ptr(v)
			}
			reading.ObservedAt = at
		case ParamGageHeight:
			if v != missingCode {
				reading.GageHeight = ptr(v)
			}
			if reading.ObservedAt.IsZero() {
				reading.ObservedAt = at
			}
		}
	}

	if !found {
		return nil, fetchErr(gaugeID, NoDataInRange, errors.New("no instantaneous values"))
	}
	return reading, nil
}

// parseInstant accepts NWIS instantaneous timestamps, which carry
// milliseconds and the site's UTC offset.
func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04:05.000-07:00", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
