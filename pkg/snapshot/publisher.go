package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HatiCode/hydrastral/pkg/objectstore"
	"github.com/HatiCode/hydrastral/pkg/trend"
)

// Publisher writes snapshots to an object store.
type Publisher struct {
	store   objectstore.Store
	archive bool
	logger  *slog.Logger
}

// NewPublisher creates a Publisher. When archive is true every published
// snapshot is also written to its history key.
func NewPublisher(store objectstore.Store, archive bool, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, archive: archive, logger: logger}
}

// Publish replaces the current document, then archives it. A failure to
// write the current document leaves the previous one in place. An archive
// key that already exists is kept as is.
func (p *Publisher) Publish(ctx context.Context, s Snapshot) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	if err := p.store.Put(ctx, CurrentKey, data); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	p.logger.Info("published snapshot",
		"key", CurrentKey,
		"site_count", s.SiteCount,
		"failures", len(s.Failures),
		"generated_at", s.GeneratedAt,
	)

	if !p.archive {
		return nil
	}
	key := ArchiveKey(s.GeneratedAt)
	err = p.store.PutNew(ctx, key, data)
	switch {
	case errors.Is(err, objectstore.ErrExists):
		p.logger.Warn("snapshot archive already exists, keeping original", "key", key)
		return nil
	case err != nil:
		return fmt.Errorf("archive snapshot: %w", err)
	}
	p.logger.Debug("archived snapshot", "key", key)
	return nil
}

// LoadCurrent reads the current document. A document that was never
// published yields an error matching objectstore.ErrNotFound.
func LoadCurrent(ctx context.Context, store objectstore.Store) (Snapshot, error) {
	data, err := store.Get(ctx, CurrentKey)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return Decode(data)
}

// LoadHistory collects per-gauge flows from archived snapshots generated
// at or after since, ordered by time. Archives that cannot be read or
// parsed are skipped with a warning.
func LoadHistory(ctx context.Context, store objectstore.Store, since time.Time, logger *slog.Logger) (map[string][]trend.Point, error) {
	if logger == nil {
		logger = slog.Default()
	}
	keys, err := store.List(ctx, HistoryPrefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshot history: %w", err)
	}

	flows := make(map[string][]trend.Point)
	loaded := 0
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		at, ok := parseArchiveKey(key)
		if !ok || at.Before(since) {
			continue
		}
		data, err := store.Get(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("skipping unreadable snapshot archive", "key", key, "error", err)
			continue
		}
		s, err := Decode(data)
		if err != nil {
			logger.Warn("skipping malformed snapshot archive", "key", key, "error", err)
			continue
		}
		for id, site := range s.Sites {
			if site.Flow != nil {
				flows[id] = append(flows[id], trend.Point{At: at, Flow: *site.Flow})
			}
		}
		loaded++
	}

	logger.Debug("loaded snapshot history", "archives", loaded, "gauges", len(flows), "since", since)
	return flows, nil
}
