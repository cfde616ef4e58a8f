package db

import (
	"context"
	"time"

	"serialtrust/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UploadUnitRepository struct {
	db *gorm.DB
}

func NewUploadUnitRepository(db *gorm.DB) *UploadUnitRepository {
	return &UploadUnitRepository{db: db}
}

// RecordUnit mirrors a unit's current state for audit and queue reporting.
// The coordinator's in-memory state stays authoritative.
func (r *UploadUnitRepository) RecordUnit(ctx context.Context, factoryName string, unit domain.UploadUnit) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := UploadUnitModel{
		FactoryName:   factoryName,
		BatchID:       unit.BatchID,
		ChunkIndex:    unit.ChunkIndex,
		TotalChunks:   unit.TotalChunks,
		TestRunCount:  unit.TestRunCount,
		ContentDigest: unit.ContentDigest,
		Status:        string(unit.Status),
		ReceivedAt:    unit.ReceivedAt,
		UpdatedAt:     time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "batch_id"}, {Name: "chunk_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at", "test_run_count"}),
		}).
		Create(&model).Error
}

func (r *UploadUnitRepository) CountByStatus(ctx context.Context, factoryName string, status domain.UploadStatus) (int, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&UploadUnitModel{}).
		Where("factory_name = ? AND status = ?", factoryName, string(status)).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
