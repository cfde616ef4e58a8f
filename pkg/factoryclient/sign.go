package factoryclient

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
)

// CanonicalMessage is the byte string a factory signs for an upload: the
// decimal timestamp followed by the lowercase hex SHA-256 of the payload.
func CanonicalMessage(timestamp int64, payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return []byte(strconv.FormatInt(timestamp, 10) + hex.EncodeToString(sum[:]))
}

// SignPayload produces the base64 ASN.1 ECDSA signature carried in the
// X-Signature header.
func SignPayload(key *ecdsa.PrivateKey, timestamp int64, payload []byte) (string, error) {
	message := CanonicalMessage(timestamp, payload)
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignPayloadHMAC is the shared-secret fallback for factories that have
// not migrated to per-factory keys.
func SignPayloadHMAC(secret []byte, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(CanonicalMessage(timestamp, payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
