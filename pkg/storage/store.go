// Package storage caches the latest fleet snapshot for the serve-mode API.
//
// The object store holds the authoritative published document; a Store only
// keeps the most recent copy per scope close to the HTTP handlers. A scope
// names the set of partitions a serve process covers, "fleet" by default.
package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/HatiCode/hydrastral/pkg/snapshot"
)

// DefaultScope is used when a serve process covers every partition.
const DefaultScope = "fleet"

var scopeRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Store holds the latest snapshot per scope.
type Store interface {
	Put(ctx context.Context, scope string, snap snapshot.Snapshot) error
	GetLatest(ctx context.Context, scope string) (snapshot.Snapshot, bool, error)
}

func validateScope(scope string) error {
	if scope == "" {
		return fmt.Errorf("scope cannot be empty")
	}
	if !scopeRegex.MatchString(scope) {
		return fmt.Errorf("invalid scope %q: only alphanumeric, hyphens, and underscores allowed", scope)
	}
	return nil
}
