package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"medistream/dto"
	"medistream/entities"
	"medistream/repository"
	"medistream/service"
)

var errUnknownStream = errors.New("no active recording for stream")

// StreamManager owns the server-side recorder pipelines. One capture
// source (and so one recorder) is active per stream; acquiring a new one
// for the same client tears the previous session down first.
type StreamManager struct {
	store    service.ChunkStore
	blobs    service.BlobStore
	patients repository.PatientRepository
	opts     service.RecorderOptions

	mu     sync.Mutex
	active map[uuid.UUID]*activeRecording
}

type activeRecording struct {
	recorder *service.Recorder
	source   *service.PushSource
}

func NewStreamManager(store service.ChunkStore, blobs service.BlobStore, patients repository.PatientRepository, opts service.RecorderOptions) *StreamManager {
	return &StreamManager{
		store:    store,
		blobs:    blobs,
		patients: patients,
		opts:     opts,
		active:   make(map[uuid.UUID]*activeRecording),
	}
}

func (m *StreamManager) Start(ctx context.Context, patient *entities.Patient) (uuid.UUID, error) {
	source := service.NewPushSource()
	recorder := service.NewRecorder(m.store, m.blobs, source, m.opts)

	streamId, err := recorder.Start(ctx, patient.ID, patient.Name)
	if err != nil {
		return uuid.Nil, err
	}

	m.mu.Lock()
	m.active[streamId] = &activeRecording{recorder: recorder, source: source}
	m.mu.Unlock()
	return streamId, nil
}

func (m *StreamManager) Ingest(streamId uuid.UUID, data []byte) error {
	m.mu.Lock()
	rec, ok := m.active[streamId]
	m.mu.Unlock()
	if !ok {
		return errUnknownStream
	}
	return rec.source.Push(data)
}

func (m *StreamManager) Stop(ctx context.Context, streamId uuid.UUID) error {
	m.mu.Lock()
	rec, ok := m.active[streamId]
	delete(m.active, streamId)
	m.mu.Unlock()
	if !ok {
		return errUnknownStream
	}
	return rec.recorder.Stop(ctx)
}

// StopAll is called on shutdown so buffered segments drain before exit.
func (m *StreamManager) StopAll(ctx context.Context) {
	m.mu.Lock()
	active := make([]*activeRecording, 0, len(m.active))
	for id := range m.active {
		active = append(active, m.active[id])
		delete(m.active, id)
	}
	m.mu.Unlock()

	for _, rec := range active {
		_ = rec.recorder.Stop(ctx)
	}
}

func (h *Handler) CreateStream(c *gin.Context) {
	var req dto.CreateStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patient, err := h.Repo.FindPatientById(c.Request.Context(), req.PatientId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "patient not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load patient"})
		return
	}

	// The recorder loop outlives this request; it stops on explicit stop,
	// failure or server shutdown, not when the request context ends.
	streamId, err := h.Streams.Start(context.WithoutCancel(c.Request.Context()), patient)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start stream"})
		return
	}
	c.JSON(http.StatusCreated, dto.CreateStreamResponse{StreamId: streamId})
}

func (h *Handler) IngestChunk(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty chunk payload"})
		return
	}

	if err := h.Streams.Ingest(id, data); err != nil {
		if errors.Is(err, errUnknownStream) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, service.ErrSourceClosed) {
			c.JSON(http.StatusConflict, gin.H{"error": "stream is not accepting chunks"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest chunk"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) StopStream(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}

	if err := h.Streams.Stop(c.Request.Context(), id); err != nil {
		if errors.Is(err, errUnknownStream) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		// The session already moved to error; report the terminal cause.
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) ListStreams(c *gin.Context) {
	streams, err := h.Repo.ListStreams(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list streams"})
		return
	}
	c.JSON(http.StatusOK, streams)
}
