package entities

import (
	"time"

	"github.com/google/uuid"
)

// StreamChunk is the metadata record for one captured media segment.
// Rows are write-once; Order is unique within a stream and assigned by
// the atomic increment in the repository.
type StreamChunk struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	StreamId    uuid.UUID `json:"stream_id" gorm:"type:uuid;not null;index:idx_stream_chunks_stream;uniqueIndex:unique_stream_chunk_order"`
	StoragePath string    `json:"storage_path" gorm:"type:varchar(500);not null"`
	Order       int       `json:"order" gorm:"column:chunk_order;not null;uniqueIndex:unique_stream_chunk_order"`
	CapturedAt  time.Time `json:"captured_at" gorm:"type:timestamptz;not null"`
	CreatedAt   time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (StreamChunk) TableName() string {
	return "stream_chunks"
}
