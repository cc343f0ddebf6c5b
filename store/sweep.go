package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"medistream/pkg/blob"
)

// SweepOrphans removes chunk payloads that have no metadata record. Such
// blobs exist when registration failed after a successful upload; the
// window is accepted at write time and reconciled here, operator-invoked
// only. Blobs younger than grace are kept in case their registration is
// still in flight.
func (s *Store) SweepOrphans(ctx context.Context, blobs *blob.Store, grace time.Duration) (int, error) {
	streams, err := s.repo.ListStreams(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list streams: %w", err)
	}

	cutoff := time.Now().Add(-grace)
	removed := 0
	for _, stream := range streams {
		chunks, err := s.repo.GetChunksByStreamId(ctx, stream.ID)
		if err != nil {
			return removed, fmt.Errorf("list chunks for %s: %w", stream.ID, err)
		}
		registered := make(map[string]struct{}, len(chunks))
		for _, chunk := range chunks {
			registered[chunk.StoragePath] = struct{}{}
		}

		objects, err := blobs.List(ctx, fmt.Sprintf("streams/%s/", stream.ID))
		if err != nil {
			return removed, fmt.Errorf("list blobs for %s: %w", stream.ID, err)
		}

		for path, modified := range objects {
			if _, ok := registered[path]; ok {
				continue
			}
			if modified.After(cutoff) {
				continue
			}
			if err := blobs.Remove(ctx, path); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("path", path).Msg("failed to remove orphaned blob")
				continue
			}
			zerolog.Ctx(ctx).Info().
				Str("stream_id", stream.ID.String()).
				Str("path", path).
				Msg("removed orphaned blob")
			removed++
		}
	}
	return removed, nil
}
