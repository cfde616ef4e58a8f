package domain

type SignatureScheme string

const (
	SchemeECDSAP256  SignatureScheme = "ecdsa-p256"
	SchemeHMACSHA256 SignatureScheme = "hmac-sha256"
)

// SignedEnvelope is the per-request authentication material. It is built
// from transport headers, lives for the duration of verification and is
// never persisted.
type SignedEnvelope struct {
	// Timestamp is the caller-supplied unix time in seconds.
	Timestamp int64
	// Signature is base64; ASN.1 DER for ECDSA, raw MAC bytes for HMAC.
	Signature   string
	Scheme      SignatureScheme
	FactoryName string
	// ContentDigest is the lowercase hex SHA-256 of the payload bytes
	// exactly as received (chunk bytes for a chunked request).
	ContentDigest string
}
