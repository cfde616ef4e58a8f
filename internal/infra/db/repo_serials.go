package db

import (
	"context"
	"errors"
	"time"

	"serialtrust/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SerialRepository struct {
	db *gorm.DB
}

func NewSerialRepository(db *gorm.DB) *SerialRepository {
	return &SerialRepository{db: db}
}

// InsertIfAbsent is the idempotent write primitive: insert the serial or
// report that it already exists, never overwrite.
func (r *SerialRepository) InsertIfAbsent(ctx context.Context, record domain.SerialRecord) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	model := SerialModel{
		SerialNumber:   record.SerialNumber,
		ProductionDate: record.ProductionDate,
		Provenance:     record.Provenance,
		CreatedAt:      time.Now().UTC(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *SerialRepository) Lookup(ctx context.Context, serialNumber string) (*domain.SerialRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SerialModel
	err := r.db.WithContext(ctx).First(&model, "serial_number = ?", serialNumber).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &domain.SerialRecord{
		SerialNumber:   model.SerialNumber,
		ProductionDate: model.ProductionDate,
		Provenance:     model.Provenance,
	}, nil
}
