package identity

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryRepository struct {
	mu         sync.RWMutex
	principals map[string]Principal
}

// NewMemoryRepository builds an in-memory principal store for tests and development runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{principals: make(map[string]Principal)}
}

func (r *memoryRepository) Create(_ context.Context, p Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.principals[p.Address]; exists {
		return fmt.Errorf("%w: %s", ErrPrincipalExists, p.Address)
	}
	r.principals[p.Address] = p
	return nil
}

func (r *memoryRepository) FindByAddress(_ context.Context, address string) (Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.principals[address]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.principals {
		if p.ID == id {
			return p, nil
		}
	}
	return Principal{}, ErrPrincipalNotFound
}

func (r *memoryRepository) UpdateDevice(_ context.Context, id, deviceID string) error {
	return r.mutate(id, func(p *Principal) { p.DeviceID = deviceID })
}

func (r *memoryRepository) UpdateTokenVersion(_ context.Context, id string, version int) error {
	return r.mutate(id, func(p *Principal) { p.TokenVersion = version })
}

func (r *memoryRepository) TouchLogin(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, func(p *Principal) { p.LastLogin = at.UTC() })
}

func (r *memoryRepository) mutate(id string, fn func(*Principal)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for address, p := range r.principals {
		if p.ID == id {
			fn(&p)
			r.principals[address] = p
			return nil
		}
	}
	return ErrPrincipalNotFound
}
