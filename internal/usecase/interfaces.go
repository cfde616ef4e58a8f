package usecase

import (
	"context"
	"time"

	"serialtrust/internal/domain"
)

// RegistrationRepository persists the factory key lifecycle. Rows are
// append-then-update; nothing is ever deleted.
type RegistrationRepository interface {
	Create(ctx context.Context, req *domain.RegistrationRequest) error
	GetByID(ctx context.Context, id int64) (*domain.RegistrationRequest, error)
	GetActiveByFingerprint(ctx context.Context, fingerprint string) (*domain.RegistrationRequest, error)
	GetApprovedByFactory(ctx context.Context, factoryName string) (*domain.RegistrationRequest, error)
	ExistsByFactory(ctx context.Context, factoryName string) (bool, error)
	List(ctx context.Context) ([]domain.RegistrationRequest, error)
	UpdateDecision(ctx context.Context, id int64, from, to domain.RequestStatus, decidedBy string, decidedAt time.Time) error
}

// SerialStore is the external persistence collaborator: an atomic
// insert-if-absent plus lookup. The core never issues raw queries.
type SerialStore interface {
	InsertIfAbsent(ctx context.Context, record domain.SerialRecord) (bool, error)
	Lookup(ctx context.Context, serialNumber string) (*domain.SerialRecord, error)
}

// UploadUnitRecorder mirrors unit state transitions for audit and queue
// reporting. Implementations may be nil-backed; recording is best-effort.
type UploadUnitRecorder interface {
	RecordUnit(ctx context.Context, factoryName string, unit domain.UploadUnit) error
}

type CryptoService interface {
	Verify(scheme domain.SignatureScheme, keyMaterial, message []byte, signatureB64 string) error
}
