package adapters

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// New creates a source based on kind and a generic configuration map.
// This is the central extension point for adding new source types.
//
// Supported kinds:
//   - "usgs":    NWIS web services (config: url, userAgent, timeout)
//   - "fixture": local NWIS JSON documents (config: dir)
//
// Returns error if kind is unknown or required fields are missing.
func New(kind string, config map[string]string) (Source, error) {
	switch kind {
	case "usgs":
		return newUSGS(config)
	case "fixture":
		return newFixture(config)
	default:
		return nil, fmt.Errorf("unknown source kind: %s (must be usgs or fixture)", kind)
	}
}

// newUSGS creates a USGS adapter from generic config.
func newUSGS(config map[string]string) (Source, error) {
	client, err := clientFromConfig(config)
	if err != nil {
		return nil, err
	}
	return &USGSAdapter{
		BaseURL:    config["url"],
		HTTPClient: client,
		UserAgent:  config["userAgent"],
	}, nil
}

// newFixture creates a fixture adapter from generic config.
func newFixture(config map[string]string) (Source, error) {
	dir := config["dir"]
	if dir == "" {
		return nil, fmt.Errorf("fixture source requires 'dir' config")
	}
	return &FixtureAdapter{Dir: dir}, nil
}

// clientFromConfig builds an HTTP client honoring an optional "timeout"
// entry, given either as a Go duration or as whole seconds.
func clientFromConfig(config map[string]string) (*http.Client, error) {
	raw := config["timeout"]
	if raw == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return nil, fmt.Errorf("invalid 'timeout' config %q: %w", raw, err)
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return nil, fmt.Errorf("invalid 'timeout' config %q: must be positive", raw)
	}
	return &http.Client{Timeout: d}, nil
}
