package oms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Service is the engine facade. All mutating operations take the caller's
// address as the first argument after ctx, run their permission checks
// against the current store state, and commit through a single Apply. A
// mutex serializes operations, so every call observes the previous call's
// writes in full.
type Service struct {
	mu    sync.Mutex
	store Store
	owner string
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the engine to a store and installs the root user at
// ownerAddr with the administrative role. Installation is idempotent: a
// store that already carries the root user is left untouched.
func NewService(ctx context.Context, store Store, ownerAddr, ownerName string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	ownerAddr = strings.TrimSpace(ownerAddr)
	if ownerAddr == "" {
		return nil, fmt.Errorf("%w: owner address is required", ErrInvalidInput)
	}

	s := &Service{
		store: store,
		owner: ownerAddr,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := store.GetUser(ctx, ownerAddr); err == nil {
		return s, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	root := User{
		Address:   ownerAddr,
		Name:      ownerName,
		Role:      RoleAdmin,
		Roles:     map[Role]struct{}{RoleAdmin: {}},
		CreatedAt: s.now(),
	}
	if err := store.Apply(ctx, ChangeSet{Users: []User{root}}); err != nil {
		return nil, fmt.Errorf("install root user: %w", err)
	}
	return s, nil
}

// Owner returns the root user's address.
func (s *Service) Owner() string {
	return s.owner
}

func (s *Service) loadUser(ctx context.Context, addr string) (User, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return User{}, fmt.Errorf("%w: address is required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, addr)
}

// requireRole loads the caller and checks the global role.
func (s *Service) requireRole(ctx context.Context, caller string, role Role) (User, error) {
	u, err := s.loadUser(ctx, caller)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, fmt.Errorf("%w: caller %s is not registered", ErrUnauthorized, caller)
		}
		return User{}, err
	}
	if !u.HasRole(role) {
		return User{}, fmt.Errorf("%w: caller %s lacks role %s", ErrUnauthorized, caller, role)
	}
	return u, nil
}

// authorizedSeller reports whether the user may act on the organization's
// inventory and orders: either its admin, or a member holding the global
// seller role.
func authorizedSeller(org Organization, u User) bool {
	if org.Admin == u.Address {
		return true
	}
	if u.Membership.OrganizationID != org.ID || u.Membership.Role == MemberNone {
		return false
	}
	return u.HasRole(RoleSeller)
}

// requireAuthorizedSeller loads caller and organization and checks the
// custody authorization predicate.
func (s *Service) requireAuthorizedSeller(ctx context.Context, caller string, orgID uint64) (User, Organization, error) {
	u, err := s.loadUser(ctx, caller)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, Organization{}, fmt.Errorf("%w: caller %s is not registered", ErrUnauthorized, caller)
		}
		return User{}, Organization{}, err
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return User{}, Organization{}, err
	}
	if !authorizedSeller(org, u) {
		return User{}, Organization{}, fmt.Errorf("%w: %s is not an authorized seller of organization %d", ErrUnauthorized, caller, orgID)
	}
	return u, org, nil
}
