package oms

import (
	"context"
	"fmt"
	"strings"
)

// CreateOrganization registers a new organization under a sequential id.
// Requires the org-admin role; the caller becomes the organization's admin
// and receives an Admin membership in it.
func (s *Service) CreateOrganization(ctx context.Context, caller, title string) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.requireRole(ctx, caller, RoleOrgAdmin)
	if err != nil {
		return Organization{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Organization{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	id, err := s.store.NextOrganizationID(ctx)
	if err != nil {
		return Organization{}, err
	}
	now := s.now()
	org := Organization{
		ID:        id,
		Title:     title,
		Admin:     u.Address,
		CreatedAt: now,
	}
	u.Membership = Membership{OrganizationID: id, Role: MemberAdmin, AddedAt: now}

	cs := ChangeSet{Organizations: []Organization{org}, Users: []User{u}}
	if err := s.store.Apply(ctx, cs); err != nil {
		return Organization{}, err
	}
	return org.Clone(), nil
}

// AddEmployeeToOrganization sets the target's membership in the organization.
// Only the organization's admin may call it. A non-None member role also
// grants the global seller role to the target; MemberNone clears the
// membership like DeleteEmployeeFromOrganization.
func (s *Service) AddEmployeeToOrganization(ctx context.Context, caller string, orgID uint64, addr string, memberRole MemberRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if org.Admin != strings.TrimSpace(caller) {
		return fmt.Errorf("%w: only the organization admin can manage employees", ErrUnauthorized)
	}
	if memberRole < MemberNone || memberRole > MemberEmployee {
		return fmt.Errorf("%w: unknown member role %d", ErrInvalidInput, memberRole)
	}
	target, err := s.loadUser(ctx, addr)
	if err != nil {
		return err
	}

	if memberRole == MemberNone {
		return s.clearMembership(ctx, org, target)
	}

	target.Membership = Membership{OrganizationID: orgID, Role: memberRole, AddedAt: s.now()}
	target.Roles[RoleSeller] = struct{}{}
	if !containsString(org.Employees, target.Address) {
		org.Employees = append(org.Employees, target.Address)
	}
	return s.store.Apply(ctx, ChangeSet{Users: []User{target}, Organizations: []Organization{org}})
}

// DeleteEmployeeFromOrganization zeroes the target's membership and revokes
// its seller role. Removing an address that was never a member is a no-op.
func (s *Service) DeleteEmployeeFromOrganization(ctx context.Context, caller string, orgID uint64, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if org.Admin != strings.TrimSpace(caller) {
		return fmt.Errorf("%w: only the organization admin can manage employees", ErrUnauthorized)
	}
	target, err := s.loadUser(ctx, addr)
	if err != nil {
		return err
	}
	return s.clearMembership(ctx, org, target)
}

func (s *Service) clearMembership(ctx context.Context, org Organization, target User) error {
	target.Membership = Membership{}
	delete(target.Roles, RoleSeller)
	org.Employees = removeString(org.Employees, target.Address)
	return s.store.Apply(ctx, ChangeSet{Users: []User{target}, Organizations: []Organization{org}})
}

// GetOrganizationByID returns the organization, its employees and inventory.
func (s *Service) GetOrganizationByID(ctx context.Context, id uint64) (Organization, error) {
	return s.store.GetOrganization(ctx, id)
}

// OrganizationIDCounter returns the id the next created organization will
// receive.
func (s *Service) OrganizationIDCounter(ctx context.Context) (uint64, error) {
	return s.store.NextOrganizationID(ctx)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
