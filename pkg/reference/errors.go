package reference

import "fmt"

// InsufficientHistoryError is returned by Build when a gauge's series has no
// observed value at all. Per-day gaps are encoded in the table instead.
type InsufficientHistoryError struct {
	GaugeID string
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("gauge %s: insufficient history: series is empty", e.GaugeID)
}

// DuplicateGaugeError is returned by Aggregate when a gauge appears more than
// once in a partition's input.
type DuplicateGaugeError struct {
	Partition string
	GaugeID   string
}

func (e *DuplicateGaugeError) Error() string {
	return fmt.Sprintf("partition %s: duplicate gauge %s", e.Partition, e.GaugeID)
}
