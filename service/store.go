package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"medistream/constant"
	"medistream/entities"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotRecording    = errors.New("session is not recording")
	ErrNoChunks        = errors.New("no chunks available")
)

// ChunkStore is the document-store collaborator shared by the recorder and
// player pipelines. AppendChunk couples the counter increment and the record
// insert so no two chunks of one session ever carry the same order, and no
// order is handed out without a persisted record.
//
// Subscriptions deliver the current snapshot immediately, then a fresh
// snapshot after every matching write.
type ChunkStore interface {
	CreateSession(ctx context.Context, patientId uuid.UUID, patientName string) (uuid.UUID, error)
	UpdateSessionStatus(ctx context.Context, streamId uuid.UUID, status constant.StreamStatus) error
	AppendChunk(ctx context.Context, streamId uuid.UUID, storagePath string, capturedAt time.Time) (order int, chunkId uuid.UUID, err error)
	GetSession(ctx context.Context, streamId uuid.UUID) (*entities.Stream, error)
	GetChunks(ctx context.Context, streamId uuid.UUID) ([]*entities.StreamChunk, error)
	SubscribeSession(ctx context.Context, streamId uuid.UUID) (*Subscription[*entities.Stream], error)
	SubscribeChunks(ctx context.Context, streamId uuid.UUID) (*Subscription[[]*entities.StreamChunk], error)
}

// BlobStore holds chunk payloads. Upload is write-once; ResolveLocator
// returns a time-bounded playable URL and fails if the object is missing.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte) error
	ResolveLocator(ctx context.Context, path string) (string, error)
}

// Segment is one fixed-duration window of captured media.
type Segment struct {
	Data       []byte
	CapturedAt time.Time
}

// CaptureSource is the local capture device. Start acquires it and begins
// segmenting; the returned channel closes after the final buffered segment
// once Stop is called. Track toggles affect only local enablement and never
// pause segment emission.
type CaptureSource interface {
	Start(ctx context.Context, chunkDuration time.Duration) (<-chan Segment, error)
	Stop()
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
}

// MediaPlayer plays one resolved chunk at a time. Play begins playback and
// returns an error only when playback cannot start. Done emits exactly one
// event per started chunk: nil on natural end, the failure otherwise.
type MediaPlayer interface {
	Play(ctx context.Context, locator string) error
	Pause()
	Resume()
	Done() <-chan error
}
