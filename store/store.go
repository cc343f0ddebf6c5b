// Package store implements service.ChunkStore on Postgres with RabbitMQ
// change notification. Writes go through the repository; every write
// publishes an event, and each subscription re-queries the full snapshot
// when its event arrives.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medistream/constant"
	"medistream/dto"
	"medistream/entities"
	"medistream/pkg/rabbitmq"
	"medistream/repository"
	"medistream/service"
)

type Store struct {
	repo repository.Repository
	pub  *rabbitmq.Publisher
	sub  *rabbitmq.Subscriber
}

func New(repo repository.Repository, pub *rabbitmq.Publisher, sub *rabbitmq.Subscriber) *Store {
	return &Store{
		repo: repo,
		pub:  pub,
		sub:  sub,
	}
}

func (s *Store) CreateSession(ctx context.Context, patientId uuid.UUID, patientName string) (uuid.UUID, error) {
	stream, err := s.repo.CreateStream(ctx, patientId, patientName)
	if err != nil {
		return uuid.Nil, err
	}
	s.notify(ctx, stream.ID, dto.EventKindSession)
	return stream.ID, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, streamId uuid.UUID, status constant.StreamStatus) error {
	if err := s.repo.UpdateStreamStatus(ctx, streamId, status); err != nil {
		if errors.Is(err, repository.ErrStreamNotFound) {
			return service.ErrSessionNotFound
		}
		return err
	}
	s.notify(ctx, streamId, dto.EventKindSession)
	return nil
}

func (s *Store) AppendChunk(ctx context.Context, streamId uuid.UUID, storagePath string, capturedAt time.Time) (int, uuid.UUID, error) {
	chunk, err := s.repo.AppendChunk(ctx, streamId, storagePath, capturedAt)
	if err != nil {
		if errors.Is(err, repository.ErrStreamNotFound) {
			return 0, uuid.Nil, service.ErrSessionNotFound
		}
		return 0, uuid.Nil, err
	}
	s.notify(ctx, streamId, dto.EventKindChunks)
	return chunk.Order, chunk.ID, nil
}

func (s *Store) GetSession(ctx context.Context, streamId uuid.UUID) (*entities.Stream, error) {
	stream, err := s.repo.FindStreamById(ctx, streamId)
	if err != nil {
		if errors.Is(err, repository.ErrStreamNotFound) {
			return nil, service.ErrSessionNotFound
		}
		return nil, err
	}
	return stream, nil
}

func (s *Store) GetChunks(ctx context.Context, streamId uuid.UUID) ([]*entities.StreamChunk, error) {
	return s.repo.GetChunksByStreamId(ctx, streamId)
}

func (s *Store) SubscribeSession(ctx context.Context, streamId uuid.UUID) (*service.Subscription[*entities.Stream], error) {
	events, err := s.sub.Subscribe(ctx, streamId, dto.EventKindSession)
	if err != nil {
		return nil, err
	}

	subscription := service.NewSubscription[*entities.Stream](func() {
		if err := events.Close(); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close session event stream")
		}
	})

	go func() {
		defer subscription.Close()
		deliver := func() {
			stream, err := s.GetSession(ctx, streamId)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("stream_id", streamId.String()).Msg("failed to load session snapshot")
				return
			}
			subscription.Publish(stream)
		}
		deliver()
		for {
			select {
			case _, ok := <-events.Events:
				if !ok {
					return
				}
				deliver()
			case <-subscription.Cancelled():
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return subscription, nil
}

func (s *Store) SubscribeChunks(ctx context.Context, streamId uuid.UUID) (*service.Subscription[[]*entities.StreamChunk], error) {
	events, err := s.sub.Subscribe(ctx, streamId, dto.EventKindChunks)
	if err != nil {
		return nil, err
	}

	subscription := service.NewSubscription[[]*entities.StreamChunk](func() {
		if err := events.Close(); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close chunk event stream")
		}
	})

	go func() {
		defer subscription.Close()
		deliver := func() {
			chunks, err := s.repo.GetChunksByStreamId(ctx, streamId)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("stream_id", streamId.String()).Msg("failed to load chunk snapshot")
				return
			}
			subscription.Publish(chunks)
		}
		deliver()
		for {
			select {
			case _, ok := <-events.Events:
				if !ok {
					return
				}
				deliver()
			case <-subscription.Cancelled():
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return subscription, nil
}

// notify is best-effort: a lost event delays a subscriber until the next
// write, it never loses data because snapshots come from the store.
func (s *Store) notify(ctx context.Context, streamId uuid.UUID, kind string) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, streamId, kind); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("stream_id", streamId.String()).
			Str("kind", kind).
			Msg("failed to publish stream event")
	}
}
