package usecase

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"serialtrust/internal/domain"
	"serialtrust/internal/infra/crypto"
)

const registryStripes = 64

// FactoryKeyRegistry owns the factory key lifecycle:
//
//	pending --approve--> approved --revoke--> revoked
//	pending --deny-----> denied
//
// Revoked is terminal for a key instance; re-approval requires a fresh
// registration. Mutual exclusion is striped per request id (and per key
// fingerprint for submission) so unrelated factories never serialize.
type FactoryKeyRegistry struct {
	Requests RegistrationRepository

	stripes [registryStripes]sync.Mutex
	now     func() time.Time
}

func NewFactoryKeyRegistry(requests RegistrationRepository) *FactoryKeyRegistry {
	return &FactoryKeyRegistry{Requests: requests, now: time.Now}
}

func NewFactoryKeyRegistryWithClock(requests RegistrationRepository, now func() time.Time) *FactoryKeyRegistry {
	if now == nil {
		now = time.Now
	}
	return &FactoryKeyRegistry{Requests: requests, now: now}
}

func (r *FactoryKeyRegistry) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &r.stripes[h.Sum32()%registryStripes]
}

// Submit registers a factory's public key as a pending request. A pending
// or approved request already holding the same key bytes is returned
// as-is, so concurrent duplicate submissions collapse to one identity.
// The second return reports whether a new request was created.
func (r *FactoryKeyRegistry) Submit(ctx context.Context, factoryName, publicKeyB64 string) (*domain.RegistrationRequest, bool, error) {
	factoryName = strings.TrimSpace(factoryName)
	if factoryName == "" {
		return nil, false, fmt.Errorf("%w: factory name is required", domain.ErrInvalidPublicKey)
	}
	der, err := crypto.DecodePublicKeyBase64(publicKeyB64)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrInvalidPublicKey, err)
	}
	if _, err := crypto.ParsePublicKey(der); err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrInvalidPublicKey, err)
	}
	fingerprint := crypto.DigestHex(der)

	mu := r.stripe("fp:" + fingerprint)
	mu.Lock()
	defer mu.Unlock()

	existing, err := r.Requests.GetActiveByFingerprint(ctx, fingerprint)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	req := &domain.RegistrationRequest{
		FactoryName: factoryName,
		PublicKey:   publicKeyB64,
		Fingerprint: fingerprint,
		Status:      domain.RequestStatusPending,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.Requests.Create(ctx, req); err != nil {
		return nil, false, err
	}
	return req, true, nil
}

// FactoryForKey maps submitted public key bytes back to the factory that
// holds them, for clients that only know their own key.
func (r *FactoryKeyRegistry) FactoryForKey(ctx context.Context, publicKeyB64 string) (string, error) {
	der, err := crypto.DecodePublicKeyBase64(publicKeyB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidPublicKey, err)
	}
	req, err := r.Requests.GetActiveByFingerprint(ctx, crypto.DigestHex(der))
	if err != nil {
		return "", err
	}
	return req.FactoryName, nil
}

// Decide applies an administrative decision. Transitions other than
// pending->approved, pending->denied and approved->revoked fail with
// ErrInvalidTransition; concurrent decisions on one request are mutually
// exclusive.
func (r *FactoryKeyRegistry) Decide(ctx context.Context, id int64, decision domain.Decision, actor string) (*domain.RegistrationRequest, error) {
	var from, to domain.RequestStatus
	switch decision {
	case domain.DecisionApprove:
		from, to = domain.RequestStatusPending, domain.RequestStatusApproved
	case domain.DecisionDeny:
		from, to = domain.RequestStatusPending, domain.RequestStatusDenied
	case domain.DecisionRevoke:
		from, to = domain.RequestStatusApproved, domain.RequestStatusRevoked
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", domain.ErrInvalidTransition, decision)
	}

	mu := r.stripe(fmt.Sprintf("id:%d", id))
	mu.Lock()
	defer mu.Unlock()

	req, err := r.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != from {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, req.Status, to)
	}
	if decision == domain.DecisionApprove {
		// At most one approved identity per distinct public key.
		if active, err := r.Requests.GetActiveByFingerprint(ctx, req.Fingerprint); err == nil {
			if active.ID != id && active.Status == domain.RequestStatusApproved {
				return nil, fmt.Errorf("%w: key already approved under request %d", domain.ErrInvalidTransition, active.ID)
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	decidedAt := r.now().UTC()
	if err := r.Requests.UpdateDecision(ctx, id, from, to, actor, decidedAt); err != nil {
		return nil, err
	}
	req.Status = to
	req.DecidedBy = actor
	req.DecidedAt = &decidedAt
	return req, nil
}

// ResolveApprovedKey returns the DER public key bytes for a factory's
// currently approved registration. Pending, denied and revoked keys never
// resolve; their bytes stay on record for audit only.
func (r *FactoryKeyRegistry) ResolveApprovedKey(ctx context.Context, factoryName string) ([]byte, error) {
	req, err := r.Requests.GetApprovedByFactory(ctx, factoryName)
	if err == nil {
		return crypto.DecodePublicKeyBase64(req.PublicKey)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	exists, err := r.Requests.ExistsByFactory(ctx, factoryName)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrKeyNotApproved
	}
	return nil, domain.ErrUnknownFactory
}

func (r *FactoryKeyRegistry) List(ctx context.Context) ([]domain.RegistrationRequest, error) {
	return r.Requests.List(ctx)
}
