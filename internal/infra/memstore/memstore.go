// Package memstore provides in-memory implementations of the persistence
// interfaces, used when no database is configured and by tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"serialtrust/internal/domain"
)

type Registrations struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.RegistrationRequest
}

func NewRegistrations() *Registrations {
	return &Registrations{nextID: 1, rows: make(map[int64]domain.RegistrationRequest)}
}

func (r *Registrations) Create(_ context.Context, req *domain.RegistrationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req.ID = r.nextID
	r.nextID++
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	r.rows[req.ID] = *req
	return nil
}

func (r *Registrations) GetByID(_ context.Context, id int64) (*domain.RegistrationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &row, nil
}

func (r *Registrations) GetActiveByFingerprint(_ context.Context, fingerprint string) (*domain.RegistrationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *domain.RegistrationRequest
	for _, row := range r.rows {
		if row.Fingerprint != fingerprint {
			continue
		}
		if row.Status != domain.RequestStatusPending && row.Status != domain.RequestStatusApproved {
			continue
		}
		if found == nil || row.ID < found.ID {
			copied := row
			found = &copied
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (r *Registrations) GetApprovedByFactory(_ context.Context, factoryName string) (*domain.RegistrationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *domain.RegistrationRequest
	for _, row := range r.rows {
		if row.FactoryName != factoryName || row.Status != domain.RequestStatusApproved {
			continue
		}
		if found == nil || laterDecision(row, *found) {
			copied := row
			found = &copied
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func laterDecision(a, b domain.RegistrationRequest) bool {
	if a.DecidedAt == nil || b.DecidedAt == nil {
		return a.ID > b.ID
	}
	return a.DecidedAt.After(*b.DecidedAt)
}

func (r *Registrations) ExistsByFactory(_ context.Context, factoryName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.FactoryName == factoryName {
			return true, nil
		}
	}
	return false, nil
}

func (r *Registrations) List(_ context.Context) ([]domain.RegistrationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RegistrationRequest, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registrations) UpdateDecision(_ context.Context, id int64, from, to domain.RequestStatus, decidedBy string, decidedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	if row.Status != from {
		return domain.ErrInvalidTransition
	}
	row.Status = to
	row.DecidedBy = decidedBy
	row.DecidedAt = &decidedAt
	r.rows[id] = row
	return nil
}

type Serials struct {
	mu   sync.Mutex
	rows map[string]domain.SerialRecord
}

func NewSerials() *Serials {
	return &Serials{rows: make(map[string]domain.SerialRecord)}
}

func (s *Serials) InsertIfAbsent(_ context.Context, record domain.SerialRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[record.SerialNumber]; ok {
		return false, nil
	}
	s.rows[record.SerialNumber] = record
	return true, nil
}

func (s *Serials) Lookup(_ context.Context, serialNumber string) (*domain.SerialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.rows[serialNumber]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &record, nil
}
