package db

import "time"

type RegistrationRequestModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	FactoryName string `gorm:"index;not null"`
	PublicKey   string `gorm:"type:text;not null"`
	Fingerprint string `gorm:"index;not null"`
	Status      string `gorm:"index;not null"`
	CreatedAt   time.Time `gorm:"not null"`
	DecidedAt   *time.Time
	DecidedBy   string
}

func (RegistrationRequestModel) TableName() string { return "registration_requests" }

type SerialModel struct {
	SerialNumber   string    `gorm:"primaryKey;size:20"`
	ProductionDate time.Time `gorm:"not null"`
	Provenance     string    `gorm:"index;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (SerialModel) TableName() string { return "serials" }

type UploadUnitModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	FactoryName  string `gorm:"index;not null"`
	BatchID      string `gorm:"uniqueIndex:idx_batch_chunk;not null"`
	ChunkIndex   int    `gorm:"uniqueIndex:idx_batch_chunk;not null"`
	TotalChunks  int    `gorm:"not null"`
	TestRunCount int
	ContentDigest string    `gorm:"not null"`
	Status        string    `gorm:"index;not null"`
	ReceivedAt    time.Time `gorm:"not null"`
	UpdatedAt     time.Time
}

func (UploadUnitModel) TableName() string { return "upload_units" }
