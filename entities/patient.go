package entities

import (
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	DateOfBirth string    `json:"date_of_birth" gorm:"type:varchar(10);not null"`
	Email       *string   `json:"email,omitempty" gorm:"type:varchar(255)"`
	MRN         string    `json:"mrn" gorm:"type:varchar(64);not null;uniqueIndex:unique_patient_mrn"`
	CreatedAt   time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Patient) TableName() string {
	return "patients"
}
