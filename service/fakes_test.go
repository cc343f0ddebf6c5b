package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"medistream/constant"
	"medistream/entities"
	"medistream/service"
)

// fakeChunkStore is an in-memory service.ChunkStore honoring the same
// atomic-order contract as the Postgres implementation.
type fakeChunkStore struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]*entities.Stream
	chunks    map[uuid.UUID][]*entities.StreamChunk
	sessSubs  map[uuid.UUID][]*service.Subscription[*entities.Stream]
	chunkSubs map[uuid.UUID][]*service.Subscription[[]*entities.StreamChunk]

	createErr error
	updateErr error
	// failAppendAt makes AppendChunk fail when it would assign this order.
	failAppendAt int
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{
		sessions:  make(map[uuid.UUID]*entities.Stream),
		chunks:    make(map[uuid.UUID][]*entities.StreamChunk),
		sessSubs:  make(map[uuid.UUID][]*service.Subscription[*entities.Stream]),
		chunkSubs: make(map[uuid.UUID][]*service.Subscription[[]*entities.StreamChunk]),
	}
}

func (f *fakeChunkStore) CreateSession(ctx context.Context, patientId uuid.UUID, patientName string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return uuid.Nil, f.createErr
	}
	stream := &entities.Stream{
		ID:          uuid.New(),
		PatientId:   patientId,
		PatientName: patientName,
		Status:      constant.StreamStatusIdle,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	f.sessions[stream.ID] = stream
	return stream.ID, nil
}

func (f *fakeChunkStore) UpdateSessionStatus(ctx context.Context, streamId uuid.UUID, status constant.StreamStatus) error {
	f.mu.Lock()
	if f.updateErr != nil {
		f.mu.Unlock()
		return f.updateErr
	}
	stream, ok := f.sessions[streamId]
	if !ok {
		f.mu.Unlock()
		return service.ErrSessionNotFound
	}
	stream.Status = status
	stream.UpdatedAt = time.Now()
	snapshot := *stream
	subs := append([]*service.Subscription[*entities.Stream](nil), f.sessSubs[streamId]...)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Publish(&snapshot)
	}
	return nil
}

func (f *fakeChunkStore) AppendChunk(ctx context.Context, streamId uuid.UUID, storagePath string, capturedAt time.Time) (int, uuid.UUID, error) {
	f.mu.Lock()
	stream, ok := f.sessions[streamId]
	if !ok {
		f.mu.Unlock()
		return 0, uuid.Nil, service.ErrSessionNotFound
	}
	next := stream.ChunkOrder + 1
	if f.failAppendAt == next {
		f.mu.Unlock()
		return 0, uuid.Nil, errors.New("counter increment failed")
	}
	stream.ChunkOrder = next
	stream.UpdatedAt = time.Now()
	chunk := &entities.StreamChunk{
		ID:          uuid.New(),
		StreamId:    streamId,
		StoragePath: storagePath,
		Order:       next,
		CapturedAt:  capturedAt,
	}
	f.chunks[streamId] = append(f.chunks[streamId], chunk)
	snapshot := f.chunkSnapshot(streamId)
	subs := append([]*service.Subscription[[]*entities.StreamChunk](nil), f.chunkSubs[streamId]...)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Publish(snapshot)
	}
	return next, chunk.ID, nil
}

func (f *fakeChunkStore) GetSession(ctx context.Context, streamId uuid.UUID) (*entities.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stream, ok := f.sessions[streamId]
	if !ok {
		return nil, service.ErrSessionNotFound
	}
	snapshot := *stream
	return &snapshot, nil
}

func (f *fakeChunkStore) GetChunks(ctx context.Context, streamId uuid.UUID) ([]*entities.StreamChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunkSnapshot(streamId), nil
}

func (f *fakeChunkStore) chunkSnapshot(streamId uuid.UUID) []*entities.StreamChunk {
	chunks := make([]*entities.StreamChunk, 0, len(f.chunks[streamId]))
	for _, chunk := range f.chunks[streamId] {
		copied := *chunk
		chunks = append(chunks, &copied)
	}
	return chunks
}

func (f *fakeChunkStore) SubscribeSession(ctx context.Context, streamId uuid.UUID) (*service.Subscription[*entities.Stream], error) {
	sub := service.NewSubscription[*entities.Stream](nil)
	go func() {
		<-sub.Cancelled()
		sub.Close()
	}()

	f.mu.Lock()
	f.sessSubs[streamId] = append(f.sessSubs[streamId], sub)
	var snapshot *entities.Stream
	if stream, ok := f.sessions[streamId]; ok {
		copied := *stream
		snapshot = &copied
	}
	f.mu.Unlock()

	if snapshot != nil {
		sub.Publish(snapshot)
	}
	return sub, nil
}

func (f *fakeChunkStore) SubscribeChunks(ctx context.Context, streamId uuid.UUID) (*service.Subscription[[]*entities.StreamChunk], error) {
	sub := service.NewSubscription[[]*entities.StreamChunk](nil)
	go func() {
		<-sub.Cancelled()
		sub.Close()
	}()

	f.mu.Lock()
	f.chunkSubs[streamId] = append(f.chunkSubs[streamId], sub)
	snapshot := f.chunkSnapshot(streamId)
	f.mu.Unlock()

	sub.Publish(snapshot)
	return sub, nil
}

// subscriberCount reports registered chunk subscriptions for the stream.
// The player subscribes to the session first, so a registered chunk
// subscription implies both are live.
func (f *fakeChunkStore) subscriberCount(streamId uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunkSubs[streamId])
}

// pushChunks delivers an arbitrary snapshot to chunk subscribers without
// writing, simulating subscription re-delivery.
func (f *fakeChunkStore) pushChunks(streamId uuid.UUID, chunks []*entities.StreamChunk) {
	f.mu.Lock()
	subs := append([]*service.Subscription[[]*entities.StreamChunk](nil), f.chunkSubs[streamId]...)
	f.mu.Unlock()
	for _, sub := range subs {
		sub.Publish(chunks)
	}
}

func (f *fakeChunkStore) seedSession(status constant.StreamStatus) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	stream := &entities.Stream{
		ID:          uuid.New(),
		PatientId:   uuid.New(),
		PatientName: "Jane Doe",
		Status:      status,
	}
	f.sessions[stream.ID] = stream
	return stream.ID
}

func (f *fakeChunkStore) sessionStatus(streamId uuid.UUID) constant.StreamStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[streamId].Status
}

func (f *fakeChunkStore) chunkOrder(streamId uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[streamId].ChunkOrder
}

// fakeBlobStore keeps payloads in a map. Locators resolve to
// "url:<storage path>"; paths listed in failResolve or failUpload inject
// the corresponding failures.
type fakeBlobStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	failUpload  map[string]bool
	failResolve map[string]bool
	uploadErrAt int // fail the Nth upload (1-based), 0 = never
	uploads     int

	// When set, Upload signals uploadStarted and parks until uploadRelease
	// closes, letting a test back segments up behind an in-flight upload.
	uploadStarted chan struct{}
	uploadRelease chan struct{}
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		objects:     make(map[string][]byte),
		failUpload:  make(map[string]bool),
		failResolve: make(map[string]bool),
	}
}

func (f *fakeBlobStore) Upload(ctx context.Context, path string, data []byte) error {
	if f.uploadStarted != nil {
		f.uploadStarted <- struct{}{}
		<-f.uploadRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.failUpload[path] || (f.uploadErrAt > 0 && f.uploads == f.uploadErrAt) {
		return errors.New("upload failed")
	}
	f.objects[path] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlobStore) ResolveLocator(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failResolve[path] {
		return "", errors.New("object missing")
	}
	return "url:" + path, nil
}

func (f *fakeBlobStore) objectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// fakeMediaPlayer records every started locator and lets the test complete
// playback explicitly.
type fakeMediaPlayer struct {
	mu      sync.Mutex
	played  []string
	playErr error
	paused  int
	resumed int
	done    chan error
}

func newFakeMediaPlayer() *fakeMediaPlayer {
	return &fakeMediaPlayer{done: make(chan error)}
}

func (f *fakeMediaPlayer) Play(ctx context.Context, locator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.played = append(f.played, locator)
	return nil
}

func (f *fakeMediaPlayer) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused++
}

func (f *fakeMediaPlayer) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed++
}

func (f *fakeMediaPlayer) Done() <-chan error {
	return f.done
}

func (f *fakeMediaPlayer) finish(err error) {
	f.done <- err
}

func (f *fakeMediaPlayer) playedLocators() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

func chunkRecord(streamId uuid.UUID, order int) *entities.StreamChunk {
	return &entities.StreamChunk{
		ID:          uuid.New(),
		StreamId:    streamId,
		StoragePath: fmt.Sprintf("streams/%s/%d.webm", streamId, order),
		Order:       order,
		CapturedAt:  time.Now(),
	}
}
