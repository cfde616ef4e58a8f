package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"testing"

	"serialtrust/internal/domain"
)

func generateKey(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return key, der
}

func signMessage(t *testing.T, key *ecdsa.PrivateKey, message []byte) string {
	t.Helper()
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

func TestVerifyECDSA(t *testing.T) {
	key, der := generateKey(t)
	service := NewService()

	payload := []byte("A001,4023\nB202,4123\n")
	message := CanonicalMessage(1700000000, DigestHex(payload))
	signature := signMessage(t, key, message)

	if err := service.Verify(domain.SchemeECDSAP256, der, message, signature); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// A different message must not verify.
	other := CanonicalMessage(1700000001, DigestHex(payload))
	if err := service.Verify(domain.SchemeECDSAP256, der, other, signature); err == nil {
		t.Fatal("expected verification failure for altered message")
	}

	// A different key must not verify.
	_, otherDER := generateKey(t)
	if err := service.Verify(domain.SchemeECDSAP256, otherDER, message, signature); err == nil {
		t.Fatal("expected verification failure for wrong key")
	}
}

func TestVerifyECDSAMalformedInputs(t *testing.T) {
	_, der := generateKey(t)
	service := NewService()
	message := CanonicalMessage(1700000000, DigestHex([]byte("x")))

	if err := service.Verify(domain.SchemeECDSAP256, der, message, "not-base64!!"); err == nil {
		t.Fatal("expected error for bad signature encoding")
	}
	if err := service.Verify(domain.SchemeECDSAP256, der, message, ""); err == nil {
		t.Fatal("expected error for empty signature")
	}
	if err := service.Verify(domain.SchemeECDSAP256, []byte("junk"), message, signFixed(t)); err == nil {
		t.Fatal("expected error for undecodable key material")
	}
}

func signFixed(t *testing.T) string {
	t.Helper()
	key, _ := generateKey(t)
	return signMessage(t, key, []byte("fixed"))
}

func TestVerifyHMAC(t *testing.T) {
	service := NewService()
	secret := []byte("shared-secret")
	message := CanonicalMessage(1700000000, DigestHex([]byte("payload")))

	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if err := service.Verify(domain.SchemeHMACSHA256, secret, message, signature); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := service.Verify(domain.SchemeHMACSHA256, []byte("other-secret"), message, signature); err == nil {
		t.Fatal("expected verification failure for wrong secret")
	}
	if err := service.Verify(domain.SchemeHMACSHA256, nil, message, signature); err == nil {
		t.Fatal("expected error when no secret is configured")
	}
}

func TestValidatePublicKey(t *testing.T) {
	_, der := generateKey(t)
	b64 := base64.StdEncoding.EncodeToString(der)

	if err := ValidatePublicKey(b64); err != nil {
		t.Fatalf("validate: %v", err)
	}
	// Whitespace and newlines survive decoding.
	if err := ValidatePublicKey("  " + b64[:20] + "\n" + b64[20:] + "  "); err != nil {
		t.Fatalf("validate wrapped key: %v", err)
	}
	if err := ValidatePublicKey("%%%"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if err := ValidatePublicKey(base64.StdEncoding.EncodeToString([]byte("not a key"))); err == nil {
		t.Fatal("expected error for non-key DER")
	}
}

func TestCanonicalMessage(t *testing.T) {
	payload := []byte("hello")
	digest := DigestHex(payload)
	if len(digest) != 64 {
		t.Fatalf("digest length %d", len(digest))
	}
	got := CanonicalMessage(42, digest)
	want := "42" + digest
	if string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
