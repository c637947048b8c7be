package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/HatiCode/hydrastral/pkg/adapters"
	"github.com/HatiCode/hydrastral/pkg/reference"
)

// State is the lifecycle position of one gauge within a pass. A fetch ends
// in FetchFailed or moves on to compute, which ends in Computed or
// ComputeFailed. Computed gauges become Recorded once the artifact holding
// them is published.
type State int

const (
	Pending State = iota
	Fetching
	Computed
	FetchFailed
	ComputeFailed
	Recorded
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fetching:
		return "fetching"
	case Computed:
		return "computed"
	case FetchFailed:
		return "fetch_failed"
	case ComputeFailed:
		return "compute_failed"
	case Recorded:
		return "recorded"
	default:
		return "unknown"
	}
}

// Failed reports whether s is a failure terminal state.
func (s State) Failed() bool {
	return s == FetchFailed || s == ComputeFailed
}

// Failure describes one gauge that did not make it into the pass output.
type Failure struct {
	GaugeID   string
	Partition string
	State     State
	Kind      string
	Reason    string
}

// Ledger collects per-gauge and per-artifact failures of one pass.
// It is filled after the pass barrier and is not safe for concurrent use.
type Ledger struct {
	gauges    map[string]Failure
	artifacts map[string]string
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{gauges: make(map[string]Failure), artifacts: make(map[string]string)}
}

// RecordGauge adds a gauge failure. A later record for the same gauge
// replaces the earlier one.
func (l *Ledger) RecordGauge(f Failure) {
	l.gauges[f.GaugeID] = f
}

// RecordArtifact adds a failure to aggregate or publish the artifact at key.
func (l *Ledger) RecordArtifact(key string, err error) {
	l.artifacts[key] = err.Error()
}

// Gauges returns the gauge failures ordered by gauge ID.
func (l *Ledger) Gauges() []Failure {
	out := make([]Failure, 0, len(l.gauges))
	for _, f := range l.gauges {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GaugeID < out[j].GaugeID })
	return out
}

// GaugeIDs returns the failed gauge IDs in ascending order.
func (l *Ledger) GaugeIDs() []string {
	ids := make([]string, 0, len(l.gauges))
	for id := range l.gauges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reasons maps each failed gauge to "state: kind".
func (l *Ledger) Reasons() map[string]string {
	out := make(map[string]string, len(l.gauges))
	for id, f := range l.gauges {
		out[id] = fmt.Sprintf("%s: %s", f.State, f.Kind)
	}
	return out
}

// Artifacts returns artifact key → failure message.
func (l *Ledger) Artifacts() map[string]string {
	out := make(map[string]string, len(l.artifacts))
	for k, v := range l.artifacts {
		out[k] = v
	}
	return out
}

// Len returns the number of failed gauges.
func (l *Ledger) Len() int { return len(l.gauges) }

// Empty reports whether the pass had no gauge or artifact failure.
func (l *Ledger) Empty() bool {
	return len(l.gauges) == 0 && len(l.artifacts) == 0
}

// failureKind names the class of err for the ledger.
func failureKind(err error) string {
	if adapters.IsTimeout(err) {
		return "timeout"
	}
	var fe *adapters.FetchError
	if errors.As(err, &fe) {
		return fe.Kind.String()
	}
	var ih *reference.InsufficientHistoryError
	if errors.As(err, &ih) {
		return "insufficient_history"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "internal"
}
