package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medistream/constant"
	"medistream/entities"
)

// PlayerState is the snapshot exposed to the viewer.
type PlayerState struct {
	Loading      bool
	Error        string
	Playing      bool
	Finished     bool
	CurrentChunk int
	TotalChunks  int
	Status       constant.StreamStatus
}

type playableChunk struct {
	order   int
	locator string
}

type playerControl int

const (
	ctrlPause playerControl = iota
	ctrlResume
)

// Player replays a stream's chunks strictly by order. It is event-driven:
// progress happens only on subscription snapshots, playback-completed
// events and explicit controls, never by polling.
//
// lastPlayedOrder is the sole cursor. Cursoring by order rather than slice
// position makes snapshot re-delivery harmless and keeps the cursor valid
// when a later snapshot resolves to a different playable set.
type Player struct {
	store    ChunkStore
	blobs    BlobStore
	media    MediaPlayer
	streamId uuid.UUID

	mu    sync.Mutex
	state PlayerState

	// Loop-owned; never touched outside run.
	playable        []playableChunk
	lastPlayedOrder int
	loaded          bool
	paused          bool
	errored         bool

	controls chan playerControl
	runDone  chan struct{}
}

func NewPlayer(store ChunkStore, blobs BlobStore, media MediaPlayer, streamId uuid.UUID) *Player {
	return &Player{
		store:    store,
		blobs:    blobs,
		media:    media,
		streamId: streamId,
		state:    PlayerState{Loading: true},
		controls: make(chan playerControl),
		runDone:  make(chan struct{}),
	}
}

// Run subscribes and processes events until ctx is cancelled. Both
// subscriptions are released on return; nothing is delivered afterwards.
func (p *Player) Run(ctx context.Context) error {
	defer close(p.runDone)

	sessSub, err := p.store.SubscribeSession(ctx, p.streamId)
	if err != nil {
		return fmt.Errorf("subscribe session: %w", err)
	}
	defer sessSub.Unsubscribe()

	chunkSub, err := p.store.SubscribeChunks(ctx, p.streamId)
	if err != nil {
		return fmt.Errorf("subscribe chunks: %w", err)
	}
	defer chunkSub.Unsubscribe()

	for {
		select {
		case stream, ok := <-sessSub.C():
			if !ok {
				return nil
			}
			p.onSession(ctx, stream)
		case chunks, ok := <-chunkSub.C():
			if !ok {
				return nil
			}
			p.onChunks(ctx, chunks)
		case playErr := <-p.media.Done():
			p.onPlaybackDone(ctx, playErr)
		case ctrl := <-p.controls:
			p.onControl(ctx, ctrl)
		case <-ctx.Done():
			return nil
		}
	}
}

// Pause suspends playback without resetting the cursor. A control issued
// after Run has returned is discarded instead of blocking the caller.
func (p *Player) Pause() {
	select {
	case p.controls <- ctrlPause:
	case <-p.runDone:
	}
}

// Resume continues the loaded chunk, or re-enters the playback step when
// none is loaded.
func (p *Player) Resume() {
	select {
	case p.controls <- ctrlResume:
	case <-p.runDone:
	}
}

func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) onSession(ctx context.Context, stream *entities.Stream) {
	p.mu.Lock()
	p.state.Status = stream.Status
	p.mu.Unlock()

	if stream.Status == constant.StreamStatusError {
		p.setError("stream encountered an error")
		return
	}
	p.evaluateEnd(ctx)
}

func (p *Player) onChunks(ctx context.Context, chunks []*entities.StreamChunk) {
	if p.finished() {
		// A chunk persisted after the stream ended is kept in storage but
		// does not re-open playback.
		return
	}

	// Order is the only authority; the snapshot's arrival order is not
	// trusted even though the store queries sorted.
	chunks = append([]*entities.StreamChunk(nil), chunks...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Order < chunks[j].Order })

	playable := make([]playableChunk, 0, len(chunks))
	for _, chunk := range chunks {
		locator, err := p.blobs.ResolveLocator(ctx, chunk.StoragePath)
		if err != nil {
			// Chunk-local failure: exclude it, keep the rest playable.
			zerolog.Ctx(ctx).Warn().Err(err).
				Str("stream_id", p.streamId.String()).
				Int("order", chunk.Order).
				Msg("failed to resolve chunk locator, skipping")
			continue
		}
		playable = append(playable, playableChunk{order: chunk.Order, locator: locator})
	}
	p.playable = playable

	p.mu.Lock()
	p.state.Loading = false
	p.state.TotalChunks = len(playable)
	if !p.errored && len(playable) > 0 {
		p.state.Error = ""
	}
	p.mu.Unlock()

	p.evaluateEnd(ctx)
	p.advance(ctx)
}

// nextIndex locates the first playable chunk past the cursor. playable is
// sorted by order, so everything at or below lastPlayedOrder is skipped,
// whether re-delivered or dropped from an earlier snapshot.
func (p *Player) nextIndex() int {
	for i, chunk := range p.playable {
		if chunk.order > p.lastPlayedOrder {
			return i
		}
	}
	return len(p.playable)
}

// advance implements the playback step: play the first chunk past the
// cursor if one is available.
func (p *Player) advance(ctx context.Context) {
	if p.isPlaying() || p.loaded || p.paused || p.errored || p.finished() {
		return
	}

	idx := p.nextIndex()
	if idx >= len(p.playable) {
		// Nothing left. If the stream is still recording we stay idle and
		// wait for the next snapshot; if it stopped, playback is finished.
		p.evaluateEnd(ctx)
		return
	}

	chunk := p.playable[idx]
	if err := p.media.Play(ctx, chunk.locator); err != nil {
		p.errored = true
		p.setError(fmt.Sprintf("error playing chunk %d", chunk.order))
		return
	}
	p.lastPlayedOrder = chunk.order
	p.loaded = true
	p.mu.Lock()
	p.state.Playing = true
	p.state.Error = ""
	p.state.CurrentChunk = idx + 1
	p.mu.Unlock()
}

func (p *Player) onPlaybackDone(ctx context.Context, playErr error) {
	p.loaded = false
	p.mu.Lock()
	p.state.Playing = false
	p.mu.Unlock()

	if playErr != nil {
		// Surfaced, not skipped: the pipeline never auto-advances past a
		// playback error, the viewer resumes explicitly.
		p.errored = true
		p.setError(fmt.Sprintf("playback error on chunk %d", p.lastPlayedOrder))
		return
	}

	p.advance(ctx)
}

func (p *Player) onControl(ctx context.Context, ctrl playerControl) {
	switch ctrl {
	case ctrlPause:
		if p.isPlaying() {
			p.media.Pause()
			p.paused = true
			p.mu.Lock()
			p.state.Playing = false
			p.mu.Unlock()
		}
	case ctrlResume:
		p.paused = false
		if p.errored {
			p.errored = false
			p.mu.Lock()
			p.state.Error = ""
			p.mu.Unlock()
		}
		if p.loaded {
			p.media.Resume()
			p.mu.Lock()
			p.state.Playing = true
			p.mu.Unlock()
			return
		}
		p.advance(ctx)
	}
}

func (p *Player) evaluateEnd(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Loading || p.state.Status != constant.StreamStatusStopped {
		return
	}
	if len(p.playable) == 0 {
		p.state.Error = ErrNoChunks.Error()
		p.state.Finished = true
		return
	}
	if !p.loaded && p.nextIndex() >= len(p.playable) {
		p.state.Finished = true
		zerolog.Ctx(ctx).Info().
			Str("stream_id", p.streamId.String()).
			Msg("playback finished")
	}
}

func (p *Player) setError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Error = msg
	p.state.Playing = false
}

func (p *Player) isPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Playing
}

func (p *Player) finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Finished
}
