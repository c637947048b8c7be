package adapters

import (
	"errors"
	"fmt"
)

// Sentinels matched by errors.Is against a *FetchError.
var (
	ErrNoSuchGauge   = errors.New("no such gauge")
	ErrNoDataInRange = errors.New("no data in range")
	ErrTransient     = errors.New("transient network failure")
)

// FetchErrorKind classifies an upstream failure.
type FetchErrorKind int

const (
	NoSuchGauge FetchErrorKind = iota
	NoDataInRange
	TransientNetwork
)

func (k FetchErrorKind) String() string {
	switch k {
	case NoSuchGauge:
		return "no_such_gauge"
	case NoDataInRange:
		return "no_data_in_range"
	case TransientNetwork:
		return "transient_network"
	default:
		return "unknown"
	}
}

func (k FetchErrorKind) sentinel() error {
	switch k {
	case NoSuchGauge:
		return ErrNoSuchGauge
	case NoDataInRange:
		return ErrNoDataInRange
	default:
		return ErrTransient
	}
}

// FetchError is returned by every Source for a failed fetch.
type FetchError struct {
	GaugeID string
	Kind    FetchErrorKind
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.GaugeID, e.Kind.sentinel())
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.GaugeID, e.Kind.sentinel(), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *FetchError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func fetchErr(gaugeID string, kind FetchErrorKind, err error) *FetchError {
	return &FetchError{GaugeID: gaugeID, Kind: kind, Err: err}
}
