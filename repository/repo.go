package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"medistream/constant"
	"medistream/entities"
)

var ErrStreamNotFound = errors.New("stream not found")

type PatientRepository interface {
	CreatePatient(ctx context.Context, patient *entities.Patient) error
	FindPatientById(ctx context.Context, id uuid.UUID) (*entities.Patient, error)
	ListPatients(ctx context.Context) ([]*entities.Patient, error)
	UpdatePatient(ctx context.Context, patient *entities.Patient) error
	DeletePatient(ctx context.Context, id uuid.UUID) error
	CountPatients(ctx context.Context) (int64, error)
}

type StreamRepository interface {
	CreateStream(ctx context.Context, patientId uuid.UUID, patientName string) (*entities.Stream, error)
	FindStreamById(ctx context.Context, id uuid.UUID) (*entities.Stream, error)
	ListStreams(ctx context.Context, limit int) ([]*entities.Stream, error)
	UpdateStreamStatus(ctx context.Context, id uuid.UUID, status constant.StreamStatus) error
	AppendChunk(ctx context.Context, streamId uuid.UUID, storagePath string, capturedAt time.Time) (*entities.StreamChunk, error)
	GetChunksByStreamId(ctx context.Context, streamId uuid.UUID) ([]*entities.StreamChunk, error)
	CountStreams(ctx context.Context) (int64, error)
	CountStreamsByStatus(ctx context.Context, status constant.StreamStatus) (int64, error)
}

type Repository interface {
	PatientRepository
	StreamRepository
	GetDB() *gorm.DB
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) Repository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	return &repo{
		db: gormDB,
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) CreatePatient(ctx context.Context, patient *entities.Patient) error {
	return r.GetDB().WithContext(ctx).Create(patient).Error
}

func (r *repo) FindPatientById(ctx context.Context, id uuid.UUID) (*entities.Patient, error) {
	patient := &entities.Patient{}
	err := r.GetDB().WithContext(ctx).First(patient, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return patient, nil
}

func (r *repo) ListPatients(ctx context.Context) ([]*entities.Patient, error) {
	var patients []*entities.Patient
	err := r.GetDB().WithContext(ctx).Order("created_at DESC").Find(&patients).Error
	if err != nil {
		return nil, err
	}
	return patients, nil
}

func (r *repo) UpdatePatient(ctx context.Context, patient *entities.Patient) error {
	updates := map[string]interface{}{
		"name":          patient.Name,
		"date_of_birth": patient.DateOfBirth,
		"email":         patient.Email,
		"mrn":           patient.MRN,
		"updated_at":    time.Now(),
	}
	return r.GetDB().WithContext(ctx).Model(&entities.Patient{}).Where("id = ?", patient.ID).Updates(updates).Error
}

func (r *repo) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return r.GetDB().WithContext(ctx).Delete(&entities.Patient{}, "id = ?", id).Error
}

func (r *repo) CountPatients(ctx context.Context) (int64, error) {
	var count int64
	err := r.GetDB().WithContext(ctx).Model(&entities.Patient{}).Count(&count).Error
	return count, err
}

func (r *repo) CreateStream(ctx context.Context, patientId uuid.UUID, patientName string) (*entities.Stream, error) {
	stream := &entities.Stream{
		ID:          uuid.New(),
		PatientId:   patientId,
		PatientName: patientName,
		Status:      constant.StreamStatusIdle,
		ChunkOrder:  0,
	}
	err := r.GetDB().WithContext(ctx).Create(stream).Error
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (r *repo) FindStreamById(ctx context.Context, id uuid.UUID) (*entities.Stream, error) {
	stream := &entities.Stream{}
	err := r.GetDB().WithContext(ctx).First(stream, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStreamNotFound
		}
		return nil, err
	}

	return stream, nil
}

func (r *repo) ListStreams(ctx context.Context, limit int) ([]*entities.Stream, error) {
	var streams []*entities.Stream
	query := r.GetDB().WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&streams).Error
	if err != nil {
		return nil, err
	}
	return streams, nil
}

func (r *repo) UpdateStreamStatus(ctx context.Context, id uuid.UUID, status constant.StreamStatus) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	res := r.GetDB().WithContext(ctx).Model(&entities.Stream{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStreamNotFound
	}
	return nil
}

// AppendChunk assigns the next order value and persists the chunk record in
// one transaction. The stream row is locked FOR UPDATE so two concurrent
// registrations can never observe the same counter value.
func (r *repo) AppendChunk(ctx context.Context, streamId uuid.UUID, storagePath string, capturedAt time.Time) (*entities.StreamChunk, error) {
	chunk := &entities.StreamChunk{
		ID:          uuid.New(),
		StreamId:    streamId,
		StoragePath: storagePath,
		CapturedAt:  capturedAt,
	}
	err := r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stream := &entities.Stream{}
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(stream, "id = ?", streamId).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStreamNotFound
			}
			return err
		}

		chunk.Order = stream.ChunkOrder + 1
		updates := map[string]interface{}{
			"chunk_order": chunk.Order,
			"updated_at":  time.Now(),
		}
		if err := tx.Model(&entities.Stream{}).Where("id = ?", streamId).Updates(updates).Error; err != nil {
			return err
		}

		return tx.Create(chunk).Error
	})
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

func (r *repo) GetChunksByStreamId(ctx context.Context, streamId uuid.UUID) ([]*entities.StreamChunk, error) {
	var chunks []*entities.StreamChunk
	err := r.GetDB().WithContext(ctx).Where("stream_id = ?", streamId).Order("chunk_order ASC").Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *repo) CountStreams(ctx context.Context) (int64, error) {
	var count int64
	err := r.GetDB().WithContext(ctx).Model(&entities.Stream{}).Count(&count).Error
	return count, err
}

func (r *repo) CountStreamsByStatus(ctx context.Context, status constant.StreamStatus) (int64, error) {
	var count int64
	err := r.GetDB().WithContext(ctx).Model(&entities.Stream{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
