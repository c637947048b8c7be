package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const dvResponse = `{
  "value": {
    "timeSeries": [{
      "variable": {"variableCode": [{"value": "00060"}], "noDataValue": -999999.0},
      "values": [{"value": [
        {"value": "120", "qualifiers": ["A"], "dateTime": "2001-01-02T00:00:00.000"},
        {"value": "100", "qualifiers": ["A"], "dateTime": "2001-01-01T00:00:00.000"},
        {"value": "-999999", "qualifiers": ["Ice"], "dateTime": "2001-01-03T00:00:00.000"},
        {"value": "0", "qualifiers": ["A"], "dateTime": "2001-01-04T00:00:00.000"}
      ]}]
    }]
  }
}`

const ivResponse = `{
  "value": {
    "timeSeries": [
      {
        "variable": {"variableCode": [{"value": "00065"}]},
        "values": [{"value": [
          {"value": "3.10", "dateTime": "2024-05-01T10:00:00.000-04:00"},
          {"value": "3.25", "dateTime": "2024-05-01T10:15:00.000-04:00"}
        ]}]
      },
      {
        "variable": {"variableCode": [{"value": "00060"}]},
        "values": [{"value": [
          {"value": "410", "dateTime": "2024-05-01T10:00:00.000-04:00"},
          {"value": "455", "dateTime": "2024-05-01T10:15:00.000-04:00"}
        ]}]
      }
    ]
  }
}`

func TestUSGSAdapter_FetchHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dv/" {
			t.Errorf("path = %s, want /dv/", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("sites") != "01646500" {
			t.Errorf("sites = %s", q.Get("sites"))
		}
		if q.Get("parameterCd") != ParamDischarge || q.Get("statCd") != "00003" {
			t.Errorf("unexpected parameter/stat: %s/%s", q.Get("parameterCd"), q.Get("statCd"))
		}
		if q.Get("startDT") != "2000-01-01" {
			t.Errorf("startDT = %s, want 2000-01-01", q.Get("startDT"))
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("expected a User-Agent header")
		}
		fmt.Fprint(w, dvResponse)
	}))
	defer server.Close()

	a := &USGSAdapter{BaseURL: server.URL}
	series, err := a.FetchHistory(context.Background(), "01646500", time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchHistory error: %v", err)
	}

	if len(series.Values) != 4 {
		t.Fatalf("expected 4 days, got %d", len(series.Values))
	}
	if got := series.Values[0].Date.Day(); got != 1 {
		t.Errorf("series not sorted: first day = %d", got)
	}
	if series.Values[0].Value == nil || *series.Values[0].Value != 100 {
		t.Errorf("day 1 value = %v, want 100", series.Values[0].Value)
	}
	if series.Values[2].Value != nil {
		t.Errorf("ice code should be missing, got %v", *series.Values[2].Value)
	}
	if series.Values[3].Value == nil || *series.Values[3].Value != 0 {
		t.Errorf("zero discharge should be kept, got %v", series.Values[3].Value)
	}
	if series.Observed() != 3 {
		t.Errorf("Observed() = %d, want 3", series.Observed())
	}
}

func TestParseDaily_KeepsZeroFlow(t *testing.T) {
	body := `{"value": {"timeSeries": [{
  "variable": {"variableCode": [{"value": "00060"}], "noDataValue": -999999.0},
  "values": [{"value": [
    {"value": "0", "qualifiers": ["A"], "dateTime": "2012-08-01T00:00:00.000"},
    {"value": "0.00", "qualifiers": ["A"], "dateTime": "2012-08-02T00:00:00.000"},
    {"value": "3.5", "qualifiers": ["A"], "dateTime": "2012-08-03T00:00:00.000"},
    {"value": "-999999", "qualifiers": ["Ice"], "dateTime": "2012-08-04T00:00:00.000"},
    {"value": "", "qualifiers": ["Eqp"], "dateTime": "2012-08-05T00:00:00.000"}
  ]}]
}]}}`

	series, err := parseDaily("09415000", []byte(body))
	if err != nil {
		t.Fatalf("parseDaily error: %v", err)
	}
	if len(series.Values) != 5 {
		t.Fatalf("expected 5 days, got %d", len(series.Values))
	}
	if series.Observed() != 3 {
		t.Errorf("Observed() = %d, want 3", series.Observed())
	}
	for i, want := range []float64{0, 0, 3.5} {
		v := series.Values[i].Value
		if v == nil || *v != want {
			t.Errorf("day %d value = %v, want %v", i+1, v, want)
		}
	}
	if series.Values[3].Value != nil || series.Values[4].Value != nil {
		t.Error("missing code and empty values should stay missing")
	}
}

func TestParseDaily_DryHistoryIsObserved(t *testing.T) {
	body := `{"value": {"timeSeries": [{
  "variable": {"variableCode": [{"value": "00060"}]},
  "values": [{"value": [
    {"value": "0", "dateTime": "2011-07-01T00:00:00.000"},
    {"value": "0", "dateTime": "2012-07-01T00:00:00.000"}
  ]}]
}]}}`

	series, err := parseDaily("09415000", []byte(body))
	if err != nil {
		t.Fatalf("parseDaily error: %v", err)
	}
	if series.Observed() != 2 {
		t.Errorf("a gauge dry for its whole record still has observations, Observed() = %d", series.Observed())
	}
}

func TestUSGSAdapter_FetchInstantaneous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/iv/" {
			t.Errorf("path = %s, want /iv/", r.URL.Path)
		}
		if got := r.URL.Query().Get("parameterCd"); got != "00060,00065" {
			t.Errorf("parameterCd = %s", got)
		}
		fmt.Fprint(w, ivResponse)
	}))
	defer server.Close()

	a := &USGSAdapter{BaseURL: server.URL}
	reading, err := a.FetchInstantaneous(context.Background(), "01646500")
	if err != nil {
		t.Fatalf("FetchInstantaneous error: %v", err)
	}

	if reading.Discharge == nil || *reading.Discharge != 455 {
		t.Errorf("Discharge = %v, want 455", reading.Discharge)
	}
	if reading.GageHeight == nil || *reading.GageHeight != 3.25 {
		t.Errorf("GageHeight = %v, want 3.25", reading.GageHeight)
	}
	want := time.Date(2024, 5, 1, 14, 15, 0, 0, time.UTC)
	if !reading.ObservedAt.Equal(want) {
		t.Errorf("ObservedAt = %v, want %v", reading.ObservedAt, want)
	}
}

func TestUSGSAdapter_ErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "bad request is no such gauge",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Bad Request", http.StatusBadRequest)
			},
			want: ErrNoSuchGauge,
		},
		{
			name: "not found is no such gauge",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "No sites found", http.StatusNotFound)
			},
			want: ErrNoSuchGauge,
		},
		{
			name: "empty time series is no data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"value": {"timeSeries": []}}`)
			},
			want: ErrNoDataInRange,
		},
		{
			name: "server error is transient",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "oops", http.StatusServiceUnavailable)
			},
			want: ErrTransient,
		},
		{
			name: "throttling is transient",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			want: ErrTransient,
		},
		{
			name: "malformed body is transient",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"value": `)
			},
			want: ErrTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			a := &USGSAdapter{BaseURL: server.URL}
			_, err := a.FetchHistory(context.Background(), "00000000", time.Now())
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want kind %v", err, tt.want)
			}
			var fe *FetchError
			if !errors.As(err, &fe) || fe.GaugeID != "00000000" {
				t.Errorf("expected *FetchError for gauge 00000000, got %T", err)
			}
		})
	}
}

func TestUSGSAdapter_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	a := &USGSAdapter{BaseURL: server.URL}
	_, err := a.FetchInstantaneous(ctx, "01646500")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("error = %v, want transient", err)
	}
	if !IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = false, want true", err)
	}
}

func TestUSGSAdapter_ListGauges(t *testing.T) {
	rdb := strings.Join([]string{
		"# US Geological Survey",
		"# retrieved: 2024-05-01",
		"agency_cd\tsite_no\tstation_nm\tsite_tp_cd\tdec_lat_va\tdec_long_va",
		"5s\t15s\t50s\t7s\t16s\t16s",
		"USGS\t01135300\tSLEEPERS RIVER AT VICTORY, VT\tST\t44.5106111\t-71.8376389",
		"USGS\t01144000\tWHITE RIVER AT WEST HARTFORD, VT\tST\t43.71416667\t-72.4186111",
		"",
	}, "\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/site/" {
			t.Errorf("path = %s, want /site/", r.URL.Path)
		}
		if got := r.URL.Query().Get("stateCd"); got != "vt" {
			t.Errorf("stateCd = %s, want vt", got)
		}
		fmt.Fprint(w, rdb)
	}))
	defer server.Close()

	a := &USGSAdapter{BaseURL: server.URL}
	gauges, err := a.ListGauges(context.Background(), "VT")
	if err != nil {
		t.Fatalf("ListGauges error: %v", err)
	}
	if len(gauges) != 2 {
		t.Fatalf("expected 2 gauges, got %d", len(gauges))
	}
	if gauges[0].ID != "01135300" || gauges[0].Partition != "VT" {
		t.Errorf("gauge[0] = %+v", gauges[0])
	}
	if gauges[1].Lat != 43.71416667 || gauges[1].Lon != -72.4186111 {
		t.Errorf("gauge[1] coordinates = %v,%v", gauges[1].Lat, gauges[1].Lon)
	}
}

func TestUSGSAdapter_ListGaugesNoSites(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "No sites found matching all criteria", http.StatusNotFound)
	}))
	defer server.Close()

	a := &USGSAdapter{BaseURL: server.URL}
	gauges, err := a.ListGauges(context.Background(), "GU")
	if err != nil {
		t.Fatalf("ListGauges error: %v", err)
	}
	if len(gauges) != 0 {
		t.Errorf("expected no gauges, got %d", len(gauges))
	}
}
