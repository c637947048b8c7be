package reference

import (
	"context"
	"fmt"
	"regexp"

	"github.com/HatiCode/hydrastral/pkg/objectstore"
)

var partitionRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidatePartition reports whether a partition key is usable as a path
// segment.
func ValidatePartition(partition string) error {
	if !partitionRegex.MatchString(partition) {
		return fmt.Errorf("invalid partition key %q: only alphanumeric, hyphens, and underscores allowed", partition)
	}
	return nil
}

// PartitionKey returns the object key of a partition's published table.
func PartitionKey(partition string) string {
	return fmt.Sprintf("reference_stats/state=%s/data.parquet", partition)
}

// Publish encodes pt and replaces the partition's published artifact in one
// atomic write. On any error the previous artifact remains authoritative.
func Publish(ctx context.Context, store objectstore.Store, pt *PartitionTable) error {
	if err := ValidatePartition(pt.Partition); err != nil {
		return err
	}
	data, err := Encode(pt)
	if err != nil {
		return err
	}
	return store.Put(ctx, PartitionKey(pt.Partition), data)
}

// Load reads a partition's published table. A partition that was never
// published yields an error matching objectstore.ErrNotFound.
func Load(ctx context.Context, store objectstore.Store, partition string) (*PartitionTable, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}
	data, err := store.Get(ctx, PartitionKey(partition))
	if err != nil {
		return nil, fmt.Errorf("load partition %s: %w", partition, err)
	}
	return Decode(partition, data)
}
