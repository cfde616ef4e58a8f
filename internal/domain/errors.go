package domain

import "errors"

var (
	ErrThrottled         = errors.New("rate limit exceeded")
	ErrStaleTimestamp    = errors.New("request timestamp expired")
	ErrFutureSkew        = errors.New("request timestamp is in the future")
	ErrUnknownFactory    = errors.New("unknown factory")
	ErrKeyNotApproved    = errors.New("factory key not approved")
	ErrInvalidSignature  = errors.New("signature invalid")
	ErrInvalidPublicKey  = errors.New("public key invalid")
	ErrDigestMismatch    = errors.New("chunk digest mismatch")
	ErrInvalidUpload     = errors.New("invalid upload metadata")
	ErrBatchIncomplete   = errors.New("batch incomplete")
	ErrInvalidTransition = errors.New("invalid request transition")
	ErrPersistence       = errors.New("persistence failure")
	ErrInvalidSerial     = errors.New("invalid serial format")
	ErrPolicyDenied      = errors.New("upload denied by policy")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
)
