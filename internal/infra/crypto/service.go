package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"serialtrust/internal/domain"
)

// Service verifies upload signatures. It is stateless; key material is
// resolved by the caller and passed per call.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// DigestHex is the lowercase hex SHA-256 of the payload bytes exactly as
// received.
func DigestHex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// CanonicalMessage is the byte string a signature is computed over: the
// decimal timestamp immediately followed by the payload digest hex.
func CanonicalMessage(timestamp int64, digestHex string) []byte {
	return []byte(strconv.FormatInt(timestamp, 10) + digestHex)
}

// DecodePublicKeyBase64 decodes a submitted public key, tolerating the
// whitespace and newlines that PEM-stripped keys tend to carry.
func DecodePublicKeyBase64(b64 string) ([]byte, error) {
	clean := strings.NewReplacer("\n", "", "\r", "", " ", "", "\t", "").Replace(strings.TrimSpace(b64))
	der, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 public key: %w", err)
	}
	return der, nil
}

// ParsePublicKey parses DER (PKIX) bytes and requires a P-256 ECDSA key.
func ParsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an EC key")
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.New("public key must use P-256")
	}
	return key, nil
}

// ValidatePublicKey checks a base64 key at registration time so a factory
// learns about a bad key before an admin ever sees the request.
func ValidatePublicKey(b64 string) error {
	der, err := DecodePublicKeyBase64(b64)
	if err != nil {
		return err
	}
	_, err = ParsePublicKey(der)
	return err
}

// Verify checks signatureB64 over message under the given scheme. For the
// asymmetric scheme keyMaterial is the DER public key; for the symmetric
// scheme it is the shared secret. Malformed keys and signatures are
// verification failures, not faults.
func (s *Service) Verify(scheme domain.SignatureScheme, keyMaterial []byte, message []byte, signatureB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureB64))
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) == 0 {
		return errors.New("signature is required")
	}
	switch scheme {
	case domain.SchemeECDSAP256:
		key, err := ParsePublicKey(keyMaterial)
		if err != nil {
			return err
		}
		digest := sha256.Sum256(message)
		if !ecdsa.VerifyASN1(key, digest[:], sig) {
			return errors.New("signature verification failed")
		}
		return nil
	case domain.SchemeHMACSHA256:
		if len(keyMaterial) == 0 {
			return errors.New("shared secret not configured")
		}
		mac := hmac.New(sha256.New, keyMaterial)
		mac.Write(message)
		if !hmac.Equal(mac.Sum(nil), sig) {
			return errors.New("signature verification failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported signature scheme: %s", scheme)
	}
}
