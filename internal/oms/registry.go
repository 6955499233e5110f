package oms

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CreateUser registers a new actor under the given address with one initial
// role. Admin-only. An address can be registered once; re-registration fails
// with ErrDuplicateIdentifier.
func (s *Service) CreateUser(ctx context.Context, caller, addr, name, metadata string, role Role) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireRole(ctx, caller, RoleAdmin); err != nil {
		return User{}, err
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return User{}, fmt.Errorf("%w: address is required", ErrInvalidInput)
	}
	if !KnownRole(role) {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	if _, err := s.store.GetUser(ctx, addr); err == nil {
		return User{}, fmt.Errorf("%w: user %s", ErrDuplicateIdentifier, addr)
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	u := User{
		Address:   addr,
		Name:      name,
		Metadata:  metadata,
		Role:      role,
		Roles:     map[Role]struct{}{role: {}},
		CreatedAt: s.now(),
	}
	if err := s.store.Apply(ctx, ChangeSet{Users: []User{u}}); err != nil {
		return User{}, err
	}
	return u.Clone(), nil
}

// GrantRole adds a global role to the target user. Admin-only.
func (s *Service) GrantRole(ctx context.Context, caller string, role Role, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireRole(ctx, caller, RoleAdmin); err != nil {
		return err
	}
	if !KnownRole(role) {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	u, err := s.loadUser(ctx, target)
	if err != nil {
		return err
	}
	if u.HasRole(role) {
		return nil
	}
	u.Roles[role] = struct{}{}
	return s.store.Apply(ctx, ChangeSet{Users: []User{u}})
}

// RevokeRole removes a global role from the target user. Admin-only. The
// root user's administrative role is immune, for every caller.
func (s *Service) RevokeRole(ctx context.Context, caller string, role Role, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireRole(ctx, caller, RoleAdmin); err != nil {
		return err
	}
	if !KnownRole(role) {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if role == RoleAdmin && strings.TrimSpace(target) == s.owner {
		return fmt.Errorf("%w: root administrative role cannot be revoked", ErrProtectedRole)
	}
	u, err := s.loadUser(ctx, target)
	if err != nil {
		return err
	}
	if !u.HasRole(role) {
		return nil
	}
	delete(u.Roles, role)
	return s.store.Apply(ctx, ChangeSet{Users: []User{u}})
}

// RenounceRole lets an actor drop one of its own roles. The target must be
// the caller itself. The root user cannot renounce its administrative role.
func (s *Service) RenounceRole(ctx context.Context, caller string, role Role, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(caller) != strings.TrimSpace(target) {
		return fmt.Errorf("%w: roles can only be renounced for self", ErrUnauthorized)
	}
	if !KnownRole(role) {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if role == RoleAdmin && strings.TrimSpace(caller) == s.owner {
		return fmt.Errorf("%w: root administrative role cannot be renounced", ErrProtectedRole)
	}
	u, err := s.loadUser(ctx, caller)
	if err != nil {
		return err
	}
	if !u.HasRole(role) {
		return nil
	}
	delete(u.Roles, role)
	return s.store.Apply(ctx, ChangeSet{Users: []User{u}})
}

// HasRole reports whether the address currently holds the role. Unregistered
// addresses hold no roles.
func (s *Service) HasRole(ctx context.Context, role Role, addr string) (bool, error) {
	u, err := s.store.GetUser(ctx, strings.TrimSpace(addr))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.HasRole(role), nil
}

// GetUserByAddress returns the user's profile, role set and membership.
func (s *Service) GetUserByAddress(ctx context.Context, addr string) (User, error) {
	return s.loadUser(ctx, addr)
}
