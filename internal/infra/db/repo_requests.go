package db

import (
	"context"
	"errors"
	"time"

	"serialtrust/internal/domain"

	"gorm.io/gorm"
)

type RegistrationRequestRepository struct {
	db *gorm.DB
}

func NewRegistrationRequestRepository(db *gorm.DB) *RegistrationRequestRepository {
	return &RegistrationRequestRepository{db: db}
}

func (r *RegistrationRequestRepository) Create(ctx context.Context, req *domain.RegistrationRequest) error {
	if r.db == nil {
		return errDBUnavailable
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := RegistrationRequestModel{
		FactoryName: req.FactoryName,
		PublicKey:   req.PublicKey,
		Fingerprint: req.Fingerprint,
		Status:      string(req.Status),
		CreatedAt:   createdAt,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	req.ID = model.ID
	req.CreatedAt = createdAt
	return nil
}

func (r *RegistrationRequestRepository) GetByID(ctx context.Context, id int64) (*domain.RegistrationRequest, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model RegistrationRequestModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return requestFromModel(model), nil
}

// GetActiveByFingerprint finds a pending or approved request holding the
// same public key, so duplicate submissions collapse to one identity.
func (r *RegistrationRequestRepository) GetActiveByFingerprint(ctx context.Context, fingerprint string) (*domain.RegistrationRequest, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model RegistrationRequestModel
	err := r.db.WithContext(ctx).
		Where("fingerprint = ? AND status IN ?", fingerprint, []string{
			string(domain.RequestStatusPending),
			string(domain.RequestStatusApproved),
		}).
		Order("created_at ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return requestFromModel(model), nil
}

// GetApprovedByFactory resolves the most recently approved key for a
// factory. Pending, denied and revoked rows never resolve.
func (r *RegistrationRequestRepository) GetApprovedByFactory(ctx context.Context, factoryName string) (*domain.RegistrationRequest, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model RegistrationRequestModel
	err := r.db.WithContext(ctx).
		Where("factory_name = ? AND status = ?", factoryName, string(domain.RequestStatusApproved)).
		Order("decided_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return requestFromModel(model), nil
}

func (r *RegistrationRequestRepository) ExistsByFactory(ctx context.Context, factoryName string) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RegistrationRequestModel{}).
		Where("factory_name = ?", factoryName).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *RegistrationRequestRepository) List(ctx context.Context) ([]domain.RegistrationRequest, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []RegistrationRequestModel
	err := r.db.WithContext(ctx).Order("id ASC").Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.RegistrationRequest, 0, len(models))
	for _, model := range models {
		out = append(out, *requestFromModel(model))
	}
	return out, nil
}

// UpdateDecision flips a request's status only when it is still in the
// expected state; the zero-rows case reports a lost race as
// ErrInvalidTransition.
func (r *RegistrationRequestRepository) UpdateDecision(ctx context.Context, id int64, from, to domain.RequestStatus, decidedBy string, decidedAt time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&RegistrationRequestModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{
			"status":     string(to),
			"decided_by": decidedBy,
			"decided_at": decidedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func requestFromModel(model RegistrationRequestModel) *domain.RegistrationRequest {
	return &domain.RegistrationRequest{
		ID:          model.ID,
		FactoryName: model.FactoryName,
		PublicKey:   model.PublicKey,
		Fingerprint: model.Fingerprint,
		Status:      domain.RequestStatus(model.Status),
		CreatedAt:   model.CreatedAt,
		DecidedAt:   model.DecidedAt,
		DecidedBy:   model.DecidedBy,
	}
}
