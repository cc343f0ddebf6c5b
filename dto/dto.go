package dto

import "github.com/google/uuid"

// StreamEvent is published on the stream events exchange after every
// session or chunk write. Subscribers re-query the store on receipt, the
// event itself carries no snapshot.
type StreamEvent struct {
	StreamId uuid.UUID `json:"streamId"`
	Kind     string    `json:"kind"` // "session" or "chunks"
}

const (
	EventKindSession = "session"
	EventKindChunks  = "chunks"
)

type CreateStreamRequest struct {
	PatientId uuid.UUID `json:"patient_id" binding:"required"`
}

type CreateStreamResponse struct {
	StreamId uuid.UUID `json:"stream_id"`
}

type CreatePatientRequest struct {
	Name        string  `json:"name" binding:"required"`
	DateOfBirth string  `json:"date_of_birth" binding:"required"`
	Email       *string `json:"email"`
	MRN         string  `json:"mrn" binding:"required"`
}

type UpdatePatientRequest struct {
	Name        string  `json:"name" binding:"required"`
	DateOfBirth string  `json:"date_of_birth" binding:"required"`
	Email       *string `json:"email"`
	MRN         string  `json:"mrn" binding:"required"`
}

type DashboardResponse struct {
	TotalPatients int64 `json:"total_patients"`
	ActiveStreams int64 `json:"active_streams"`
	TotalStreams  int64 `json:"total_streams"`
}

// ResolvedChunk is a chunk record with its storage path resolved to a
// time-bounded playable URL.
type ResolvedChunk struct {
	ChunkId    uuid.UUID `json:"chunk_id"`
	Order      int       `json:"order"`
	URL        string    `json:"url"`
	CapturedAt int64     `json:"captured_at"`
}
