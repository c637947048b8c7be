package reference

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RequiredRanks must be present in every configured rank set.
var RequiredRanks = []float64{0, 10, 25, 50, 75, 90, 100}

// DefaultRanks is the rank set used when none is configured.
var DefaultRanks = []float64{0, 5, 10, 25, 50, 75, 90, 95, 100}

// ParseRank parses a percentile rank from either p-notation (p90, p05) or a
// plain number on the 0–100 scale (90, 5, 12.5).
//
// Examples:
//   - "p50" → 50
//   - "p5"  → 5
//   - "95"  → 95
//   - "0"   → 0
//
// Returns error if the format is invalid or the value is out of range [0, 100].
func ParseRank(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty rank")
	}

	raw := s
	if strings.HasPrefix(strings.ToLower(s), "p") {
		raw = s[1:]
	}

	rank, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rank %q: %w", s, err)
	}
	if rank < 0 || rank > 100 {
		return 0, fmt.Errorf("rank %v out of range [0, 100]", rank)
	}
	return rank, nil
}

// ParseRanks parses a comma-separated rank list, sorts it and validates it
// with ValidateRanks.
func ParseRanks(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	ranks := make([]float64, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		r, err := ParseRank(p)
		if err != nil {
			return nil, err
		}
		ranks = append(ranks, r)
	}
	sort.Float64s(ranks)
	if err := ValidateRanks(ranks); err != nil {
		return nil, err
	}
	return ranks, nil
}

// ValidateRanks checks that ranks are strictly ascending, within [0, 100]
// and include every rank in RequiredRanks.
func ValidateRanks(ranks []float64) error {
	if len(ranks) == 0 {
		return fmt.Errorf("rank set is empty")
	}
	for i, r := range ranks {
		if r < 0 || r > 100 {
			return fmt.Errorf("rank %v out of range [0, 100]", r)
		}
		if i > 0 && r <= ranks[i-1] {
			return fmt.Errorf("ranks must be strictly ascending: %v follows %v", r, ranks[i-1])
		}
	}
	for _, req := range RequiredRanks {
		i := sort.SearchFloat64s(ranks, req)
		if i == len(ranks) || ranks[i] != req {
			return fmt.Errorf("rank set must include %s", FormatRank(req))
		}
	}
	return nil
}

// FormatRank formats a rank in p-notation for display and column naming.
//
// Examples:
//   - 50   → "p50"
//   - 5    → "p05"
//   - 12.5 → "p12.5"
func FormatRank(r float64) string {
	if r == float64(int(r)) {
		return fmt.Sprintf("p%02d", int(r))
	}
	return fmt.Sprintf("p%g", r)
}
