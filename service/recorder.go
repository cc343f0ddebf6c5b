package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medistream/constant"
)

var ErrAlreadyRecording = errors.New("recorder already has an active session")

const DefaultChunkDuration = 5 * time.Second

type RecorderOptions struct {
	ChunkDuration time.Duration
}

// Recorder drives one capture source: it creates the stream session,
// uploads every emitted segment and registers it against the session's
// chunk counter. A persistence failure halts capture and moves the session
// to error; the counter increment is the sole ordering authority, so
// capture never continues past a chunk that failed to persist.
type Recorder struct {
	store  ChunkStore
	blobs  BlobStore
	source CaptureSource
	opts   RecorderOptions

	mu      sync.Mutex
	session *Session
	done    chan struct{}
}

func NewRecorder(store ChunkStore, blobs BlobStore, source CaptureSource, opts RecorderOptions) *Recorder {
	if opts.ChunkDuration <= 0 {
		opts.ChunkDuration = DefaultChunkDuration
	}
	return &Recorder{
		store:  store,
		blobs:  blobs,
		source: source,
		opts:   opts,
	}
}

// Start acquires the capture source, creates a fresh session and begins the
// segment loop. The source is acquired first so a device failure leaves no
// session row behind. Starting after a stop creates a new session; the
// previous one is never reactivated.
func (r *Recorder) Start(ctx context.Context, patientId uuid.UUID, patientName string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil && !r.session.Status().Terminal() {
		return uuid.Nil, ErrAlreadyRecording
	}

	segments, err := r.source.Start(ctx, r.opts.ChunkDuration)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start capture: %w", err)
	}

	streamId, err := r.store.CreateSession(ctx, patientId, patientName)
	if err != nil {
		r.source.Stop()
		return uuid.Nil, fmt.Errorf("create session: %w", err)
	}

	r.session = NewSession(streamId)
	r.done = make(chan struct{})
	go r.run(ctx, r.session, r.done, segments)

	zerolog.Ctx(ctx).Info().
		Str("stream_id", streamId.String()).
		Str("patient_id", patientId.String()).
		Msg("recording session started")
	return streamId, nil
}

func (r *Recorder) run(ctx context.Context, session *Session, done chan struct{}, segments <-chan Segment) {
	defer close(done)

	for seg := range segments {
		if session.Status().Terminal() {
			// Late segment after a failure already tore the session down.
			zerolog.Ctx(ctx).Warn().
				Str("stream_id", session.StreamId().String()).
				Msg("dropping segment emitted after terminal transition")
			continue
		}

		order, err := r.persist(ctx, session.StreamId(), seg)
		if err != nil {
			r.fail(ctx, session, err)
			continue
		}

		if session.Status() == constant.StreamStatusIdle {
			if err := session.Transition(constant.StreamStatusRecording); err == nil {
				if err := r.store.UpdateSessionStatus(ctx, session.StreamId(), constant.StreamStatusRecording); err != nil {
					r.fail(ctx, session, err)
					continue
				}
			}
		}

		zerolog.Ctx(ctx).Debug().
			Str("stream_id", session.StreamId().String()).
			Int("order", order).
			Int("bytes", len(seg.Data)).
			Msg("chunk persisted")
	}

	// Source closed cleanly. Everything already emitted was drained above;
	// only a segment the source never handed over can be lost.
	if session.Status().Terminal() {
		return
	}
	if err := session.Transition(constant.StreamStatusStopped); err != nil {
		return
	}
	if err := r.store.UpdateSessionStatus(ctx, session.StreamId(), constant.StreamStatusStopped); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("stream_id", session.StreamId().String()).
			Msg("failed to mark session stopped")
	}
}

// persist uploads the payload, then registers the chunk. The storage path is
// derived from the capture timestamp, which is monotonic per stream because
// capture is sequential on a single producer.
func (r *Recorder) persist(ctx context.Context, streamId uuid.UUID, seg Segment) (int, error) {
	path := ChunkStoragePath(streamId, seg.CapturedAt)

	if err := r.blobs.Upload(ctx, path, seg.Data); err != nil {
		return 0, fmt.Errorf("upload chunk: %w", err)
	}

	order, _, err := r.store.AppendChunk(ctx, streamId, path, seg.CapturedAt)
	if err != nil {
		// The payload is now orphaned: blob written, no record. Accepted
		// inconsistency window, reconciled only by the operator sweep.
		return 0, fmt.Errorf("register chunk: %w", err)
	}
	return order, nil
}

func (r *Recorder) fail(ctx context.Context, session *Session, cause error) {
	if session.Status().Terminal() {
		return
	}
	zerolog.Ctx(ctx).Error().Err(cause).
		Str("stream_id", session.StreamId().String()).
		Msg("recording session failed")
	session.Fail(cause)
	r.source.Stop()
	if err := r.store.UpdateSessionStatus(ctx, session.StreamId(), constant.StreamStatusError); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("stream_id", session.StreamId().String()).
			Msg("failed to mark session errored")
	}
}

// Stop ends capture and waits for buffered segments to finish persisting.
// In-flight uploads complete rather than being aborted, so a stopped session
// never leaves a blob without a record on the clean path.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	session := r.session
	done := r.done
	r.mu.Unlock()

	if session == nil {
		return ErrNotRecording
	}

	r.source.Stop()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return session.Err()
}

// Session returns the state machine of the current (or last) session.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// SetAudioEnabled toggles the local audio track. Local enablement only:
// chunk production continues while muted.
func (r *Recorder) SetAudioEnabled(enabled bool) {
	r.source.SetAudioEnabled(enabled)
}

// SetVideoEnabled toggles the local video track without pausing emission.
func (r *Recorder) SetVideoEnabled(enabled bool) {
	r.source.SetVideoEnabled(enabled)
}

// ChunkStoragePath is the blob key for a segment captured at ts.
func ChunkStoragePath(streamId uuid.UUID, ts time.Time) string {
	return fmt.Sprintf("streams/%s/%d.webm", streamId, ts.UnixMilli())
}
