package entities

import (
	"time"

	"github.com/google/uuid"
	"medistream/constant"
)

// Stream is one recording-to-playback session. ChunkOrder is the highest
// chunk order assigned so far and only ever increases; every increment is
// coupled to exactly one StreamChunk row carrying that value.
type Stream struct {
	ID          uuid.UUID             `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	PatientId   uuid.UUID             `json:"patient_id" gorm:"type:uuid;not null;index:idx_streams_patient_id"`
	PatientName string                `json:"patient_name" gorm:"type:varchar(255)"`
	Status      constant.StreamStatus `json:"status" gorm:"type:varchar(20);not null;default:'idle';index:idx_streams_status"`
	ChunkOrder  int                   `json:"chunk_order" gorm:"type:integer;not null;default:0"`
	CreatedAt   time.Time             `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time             `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Stream) TableName() string {
	return "streams"
}
