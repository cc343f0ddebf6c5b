package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"medistream/constant"
	"medistream/entities"
	"medistream/handler"
	"medistream/repository"
	"medistream/service"
)

// memBackend is an in-memory stand-in for the Postgres repository and the
// chunk store, good enough to drive the HTTP surface.
type memBackend struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*entities.Patient
	streams  map[uuid.UUID]*entities.Stream
	chunks   map[uuid.UUID][]*entities.StreamChunk
}

func newMemBackend() *memBackend {
	return &memBackend{
		patients: make(map[uuid.UUID]*entities.Patient),
		streams:  make(map[uuid.UUID]*entities.Stream),
		chunks:   make(map[uuid.UUID][]*entities.StreamChunk),
	}
}

func (b *memBackend) GetDB() *gorm.DB { return nil }

func (b *memBackend) CreatePatient(ctx context.Context, patient *entities.Patient) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patients[patient.ID] = patient
	return nil
}

func (b *memBackend) FindPatientById(ctx context.Context, id uuid.UUID) (*entities.Patient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	patient, ok := b.patients[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return patient, nil
}

func (b *memBackend) ListPatients(ctx context.Context) ([]*entities.Patient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	patients := make([]*entities.Patient, 0, len(b.patients))
	for _, patient := range b.patients {
		patients = append(patients, patient)
	}
	return patients, nil
}

func (b *memBackend) UpdatePatient(ctx context.Context, patient *entities.Patient) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.patients[patient.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	b.patients[patient.ID] = patient
	return nil
}

func (b *memBackend) DeletePatient(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.patients, id)
	return nil
}

func (b *memBackend) CountPatients(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.patients)), nil
}

func (b *memBackend) CreateStream(ctx context.Context, patientId uuid.UUID, patientName string) (*entities.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stream := &entities.Stream{
		ID:          uuid.New(),
		PatientId:   patientId,
		PatientName: patientName,
		Status:      constant.StreamStatusIdle,
	}
	b.streams[stream.ID] = stream
	return stream, nil
}

func (b *memBackend) FindStreamById(ctx context.Context, id uuid.UUID) (*entities.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stream, ok := b.streams[id]
	if !ok {
		return nil, repository.ErrStreamNotFound
	}
	copied := *stream
	return &copied, nil
}

func (b *memBackend) ListStreams(ctx context.Context, limit int) ([]*entities.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	streams := make([]*entities.Stream, 0, len(b.streams))
	for _, stream := range b.streams {
		streams = append(streams, stream)
	}
	return streams, nil
}

func (b *memBackend) UpdateStreamStatus(ctx context.Context, id uuid.UUID, status constant.StreamStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stream, ok := b.streams[id]
	if !ok {
		return repository.ErrStreamNotFound
	}
	stream.Status = status
	stream.UpdatedAt = time.Now()
	return nil
}

func (b *memBackend) AppendChunk(ctx context.Context, streamId uuid.UUID, storagePath string, capturedAt time.Time) (*entities.StreamChunk, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stream, ok := b.streams[streamId]
	if !ok {
		return nil, repository.ErrStreamNotFound
	}
	stream.ChunkOrder++
	chunk := &entities.StreamChunk{
		ID:          uuid.New(),
		StreamId:    streamId,
		StoragePath: storagePath,
		Order:       stream.ChunkOrder,
		CapturedAt:  capturedAt,
	}
	b.chunks[streamId] = append(b.chunks[streamId], chunk)
	return chunk, nil
}

func (b *memBackend) GetChunksByStreamId(ctx context.Context, streamId uuid.UUID) ([]*entities.StreamChunk, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*entities.StreamChunk(nil), b.chunks[streamId]...), nil
}

func (b *memBackend) CountStreams(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.streams)), nil
}

func (b *memBackend) CountStreamsByStatus(ctx context.Context, status constant.StreamStatus) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var count int64
	for _, stream := range b.streams {
		if stream.Status == status {
			count++
		}
	}
	return count, nil
}

// service.ChunkStore view of the same data.

func (b *memBackend) CreateSession(ctx context.Context, patientId uuid.UUID, patientName string) (uuid.UUID, error) {
	stream, err := b.CreateStream(ctx, patientId, patientName)
	if err != nil {
		return uuid.Nil, err
	}
	return stream.ID, nil
}

func (b *memBackend) AppendChunkRecord(ctx context.Context, streamId uuid.UUID, storagePath string, capturedAt time.Time) (int, uuid.UUID, error) {
	chunk, err := b.AppendChunk(ctx, streamId, storagePath, capturedAt)
	if err != nil {
		return 0, uuid.Nil, err
	}
	return chunk.Order, chunk.ID, nil
}

func (b *memBackend) GetSession(ctx context.Context, streamId uuid.UUID) (*entities.Stream, error) {
	stream, err := b.FindStreamById(ctx, streamId)
	if errors.Is(err, repository.ErrStreamNotFound) {
		return nil, service.ErrSessionNotFound
	}
	return stream, err
}

func (b *memBackend) GetChunks(ctx context.Context, streamId uuid.UUID) ([]*entities.StreamChunk, error) {
	return b.GetChunksByStreamId(ctx, streamId)
}

func (b *memBackend) SubscribeSession(ctx context.Context, streamId uuid.UUID) (*service.Subscription[*entities.Stream], error) {
	sub := service.NewSubscription[*entities.Stream](nil)
	go func() {
		<-sub.Cancelled()
		sub.Close()
	}()
	if stream, err := b.FindStreamById(ctx, streamId); err == nil {
		sub.Publish(stream)
	}
	return sub, nil
}

func (b *memBackend) SubscribeChunks(ctx context.Context, streamId uuid.UUID) (*service.Subscription[[]*entities.StreamChunk], error) {
	sub := service.NewSubscription[[]*entities.StreamChunk](nil)
	go func() {
		<-sub.Cancelled()
		sub.Close()
	}()
	chunks, _ := b.GetChunksByStreamId(ctx, streamId)
	sub.Publish(chunks)
	return sub, nil
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memBlobs) Upload(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[path] = data
	return nil
}

func (m *memBlobs) ResolveLocator(ctx context.Context, path string) (string, error) {
	return "https://blobs.local/" + path, nil
}

// chunkStoreAdapter bridges the two AppendChunk signatures.
type chunkStoreAdapter struct {
	*memBackend
}

func (a chunkStoreAdapter) AppendChunk(ctx context.Context, streamId uuid.UUID, storagePath string, capturedAt time.Time) (int, uuid.UUID, error) {
	return a.AppendChunkRecord(ctx, streamId, storagePath, capturedAt)
}

func (a chunkStoreAdapter) UpdateSessionStatus(ctx context.Context, streamId uuid.UUID, status constant.StreamStatus) error {
	err := a.UpdateStreamStatus(ctx, streamId, status)
	if errors.Is(err, repository.ErrStreamNotFound) {
		return service.ErrSessionNotFound
	}
	return err
}

func newTestRouter(t *testing.T) (*gin.Engine, *memBackend) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := newMemBackend()
	store := chunkStoreAdapter{backend}
	blobs := &memBlobs{}
	streams := handler.NewStreamManager(store, blobs, backend, service.RecorderOptions{})

	h := &handler.Handler{
		Repo:    backend,
		Store:   store,
		Blobs:   blobs,
		Streams: streams,
	}
	r := gin.New()
	handler.RegisterRoutes(r, h)
	return r, backend
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPatientCRUD(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/patients", gin.H{
		"name":          "Jane Doe",
		"date_of_birth": "1984-02-29",
		"mrn":           "MRN-1001",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created entities.Patient
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Jane Doe", created.Name)

	w = doJSON(t, r, http.MethodGet, "/api/patients/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPut, "/api/patients/"+created.ID.String(), gin.H{
		"name":          "Jane Q. Doe",
		"date_of_birth": "1984-02-29",
		"mrn":           "MRN-1001",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/patients/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/patients/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPatientValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/patients", gin.H{"name": "No MRN"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/patients/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamRoundTrip(t *testing.T) {
	r, backend := newTestRouter(t)

	patient := &entities.Patient{ID: uuid.New(), Name: "Jane Doe", MRN: "MRN-1", DateOfBirth: "1990-01-01"}
	require.NoError(t, backend.CreatePatient(context.Background(), patient))

	w := doJSON(t, r, http.MethodPost, "/api/streams", gin.H{"patient_id": patient.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		StreamId uuid.UUID `json:"stream_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/streams/"+created.StreamId.String()+"/chunks", bytes.NewReader([]byte("payload")))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/streams/"+created.StreamId.String()+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)

	stream, err := backend.FindStreamById(context.Background(), created.StreamId)
	require.NoError(t, err)
	assert.Equal(t, constant.StreamStatusStopped, stream.Status)
	assert.Equal(t, 3, stream.ChunkOrder)

	w = doJSON(t, r, http.MethodGet, "/api/streams/"+created.StreamId.String()+"/chunks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chunks []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chunks))
	require.Len(t, chunks, 3)
	assert.EqualValues(t, 1, chunks[0]["order"])
	assert.EqualValues(t, 3, chunks[2]["order"])
}

func TestIngestUnknownStream(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/streams/"+uuid.NewString()+"/chunks", bytes.NewReader([]byte("payload")))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestAfterStopConflicts(t *testing.T) {
	r, backend := newTestRouter(t)

	patient := &entities.Patient{ID: uuid.New(), Name: "Jane Doe", MRN: "MRN-2", DateOfBirth: "1990-01-01"}
	require.NoError(t, backend.CreatePatient(context.Background(), patient))

	w := doJSON(t, r, http.MethodPost, "/api/streams", gin.H{"patient_id": patient.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		StreamId uuid.UUID `json:"stream_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, r, http.MethodPost, "/api/streams/"+created.StreamId.String()+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The recorder is gone; a late chunk is rejected, not silently dropped.
	req := httptest.NewRequest(http.MethodPost, "/api/streams/"+created.StreamId.String()+"/chunks", bytes.NewReader([]byte("payload")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboardCounts(t *testing.T) {
	r, backend := newTestRouter(t)

	require.NoError(t, backend.CreatePatient(context.Background(), &entities.Patient{ID: uuid.New(), Name: "A", MRN: "1"}))
	require.NoError(t, backend.CreatePatient(context.Background(), &entities.Patient{ID: uuid.New(), Name: "B", MRN: "2"}))

	stream, err := backend.CreateStream(context.Background(), uuid.New(), "A")
	require.NoError(t, err)
	require.NoError(t, backend.UpdateStreamStatus(context.Background(), stream.ID, constant.StreamStatusRecording))

	w := doJSON(t, r, http.MethodGet, "/api/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp["total_patients"])
	assert.EqualValues(t, 1, resp["active_streams"])
	assert.EqualValues(t, 1, resp["total_streams"])
}
