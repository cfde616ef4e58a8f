package domain

import "time"

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusDenied   RequestStatus = "denied"
	RequestStatusRevoked  RequestStatus = "revoked"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
	DecisionRevoke  Decision = "revoke"
)

// RegistrationRequest is a factory's bid to have a signing key admitted.
// It carries the factory identity for the lifetime of the key: approval
// makes the key resolvable for signature verification, revocation is
// terminal for this key instance. Rows are never deleted.
type RegistrationRequest struct {
	ID          int64
	FactoryName string
	// PublicKey is the base64 encoding of the DER (PKIX) public key bytes,
	// exactly as submitted.
	PublicKey string
	// Fingerprint is the lowercase hex SHA-256 of the decoded key bytes.
	Fingerprint string
	Status      RequestStatus
	CreatedAt   time.Time
	DecidedAt   *time.Time
	DecidedBy   string
}
