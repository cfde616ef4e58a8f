package usecase

import (
	"context"
	"time"

	"serialtrust/internal/domain"
	"serialtrust/internal/infra/crypto"
)

// IngestionGateway sequences every write request: freshness check, key
// resolution, signature verification, optional admission policy, then the
// coordinator. The chain short-circuits on the first failure; payload
// bytes never reach persistence logic unauthenticated. Rate admission is
// charged per request at the transport layer, before this chain runs.
type IngestionGateway struct {
	Registry    *FactoryKeyRegistry
	Verifier    CryptoService
	Coordinator *UploadCoordinator
	Serials     SerialStore
	Policy      domain.UploadPolicy

	HMACSecret      []byte
	FreshnessWindow time.Duration

	now func() time.Time
}

type IngestRequest struct {
	Envelope domain.SignedEnvelope
	Unit     domain.UploadUnit
	Payload  []byte
}

func NewIngestionGateway(registry *FactoryKeyRegistry, verifier CryptoService, coordinator *UploadCoordinator, serials SerialStore) *IngestionGateway {
	return &IngestionGateway{
		Registry:    registry,
		Verifier:    verifier,
		Coordinator: coordinator,
		Serials:     serials,
		now:         time.Now,
	}
}

func (g *IngestionGateway) WithClock(now func() time.Time) *IngestionGateway {
	if now != nil {
		g.now = now
	}
	return g
}

func (g *IngestionGateway) Ingest(ctx context.Context, req IngestRequest) (*domain.Admission, error) {
	env := req.Envelope
	if err := CheckFreshness(env.Timestamp, g.now(), g.FreshnessWindow); err != nil {
		return nil, err
	}

	// The factory must hold an approved key to write, whichever scheme
	// signs the request.
	approvedKey, err := g.Registry.ResolveApprovedKey(ctx, env.FactoryName)
	if err != nil {
		return nil, err
	}

	digest := crypto.DigestHex(req.Payload)
	message := crypto.CanonicalMessage(env.Timestamp, digest)

	keyMaterial := approvedKey
	scheme := env.Scheme
	if scheme == "" {
		scheme = domain.SchemeECDSAP256
	}
	if scheme == domain.SchemeHMACSHA256 {
		keyMaterial = g.HMACSecret
	}
	if err := g.Verifier.Verify(scheme, keyMaterial, message, env.Signature); err != nil {
		return nil, domain.ErrInvalidSignature
	}

	if g.Policy != nil {
		decision, err := g.Policy.Evaluate(ctx, domain.UploadPolicyInput{
			FactoryName:  env.FactoryName,
			Scheme:       scheme,
			TotalChunks:  req.Unit.TotalChunks,
			TestRunCount: req.Unit.TestRunCount,
		})
		if err != nil {
			return nil, err
		}
		if !decision.Allow {
			return nil, domain.ErrPolicyDenied
		}
	}

	unit := req.Unit
	unit.ContentDigest = digest
	return g.Coordinator.Admit(ctx, unit, req.Payload, env.FactoryName)
}

// VerifySerial is the public read path: validate the serial format, then
// look it up. Nothing else runs before validation.
func (g *IngestionGateway) VerifySerial(ctx context.Context, raw string) (*domain.SerialRecord, error) {
	serial, err := domain.NormalizeSerial(raw)
	if err != nil {
		return nil, err
	}
	return g.Serials.Lookup(ctx, serial)
}
