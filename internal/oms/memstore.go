package oms

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is the in-memory Store used by tests and by deployments without a
// database. All reads hand out deep copies.
type MemStore struct {
	mu       sync.RWMutex
	users    map[string]User
	orgs     map[uint64]Organization
	products map[uint64]Product
	orders   map[uint64]Order

	nextOrg     uint64
	nextProduct uint64
	nextOrder   uint64
}

// NewMemStore returns an empty store. Entity ids start at 1.
func NewMemStore() *MemStore {
	return &MemStore{
		users:       make(map[string]User),
		orgs:        make(map[uint64]Organization),
		products:    make(map[uint64]Product),
		orders:      make(map[uint64]Order),
		nextOrg:     1,
		nextProduct: 1,
		nextOrder:   1,
	}
}

func (s *MemStore) GetUser(_ context.Context, addr string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[addr]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, addr)
	}
	return u.Clone(), nil
}

func (s *MemStore) GetOrganization(_ context.Context, id uint64) (Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[id]
	if !ok {
		return Organization{}, fmt.Errorf("%w: organization %d", ErrNotFound, id)
	}
	return o.Clone(), nil
}

func (s *MemStore) GetProduct(_ context.Context, id uint64) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return p.Clone(), nil
}

func (s *MemStore) GetOrder(_ context.Context, id uint64) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return o.Clone(), nil
}

func (s *MemStore) NextOrganizationID(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextOrg, nil
}

func (s *MemStore) NextProductID(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextProduct, nil
}

func (s *MemStore) NextOrderID(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextOrder, nil
}

// Apply upserts every entity in the change set under one lock. Counters
// advance to one past the highest id seen, so an Apply that created an
// entity is the only thing that consumes its id.
func (s *MemStore) Apply(_ context.Context, cs ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range cs.Users {
		s.users[u.Address] = u.Clone()
	}
	for _, o := range cs.Organizations {
		s.orgs[o.ID] = o.Clone()
		if o.ID >= s.nextOrg {
			s.nextOrg = o.ID + 1
		}
	}
	for _, p := range cs.Products {
		s.products[p.ID] = p.Clone()
		if p.ID >= s.nextProduct {
			s.nextProduct = p.ID + 1
		}
	}
	for _, o := range cs.Orders {
		s.orders[o.ID] = o.Clone()
		if o.ID >= s.nextOrder {
			s.nextOrder = o.ID + 1
		}
	}
	return nil
}
