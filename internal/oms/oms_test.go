package oms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	addrRoot         = "0xroot"
	addrFactoryAdmin = "0xfactory-admin"
	addrFactoryStaff = "0xfactory-staff"
	addrShopAdmin    = "0xshop-admin"
	addrShopStaff    = "0xshop-staff"
	addrOutsider     = "0xoutsider"
)

type fixture struct {
	ctx   context.Context
	svc   *Service
	store *MemStore
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: NewMemStore(),
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(f.ctx, f.store, addrRoot, "root", WithClock(func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}))
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) createUser(t *testing.T, addr, name string, role Role) {
	t.Helper()
	_, err := f.svc.CreateUser(f.ctx, addrRoot, addr, name, "", role)
	require.NoError(t, err)
}

func (f *fixture) grant(t *testing.T, role Role, addr string) {
	t.Helper()
	require.NoError(t, f.svc.GrantRole(f.ctx, addrRoot, role, addr))
}

// withOrganizations registers two organizations: a factory (org 1, admin
// holding manufacturer) with one staff member, and a shop (org 2) with one
// staff member.
func (f *fixture) withOrganizations(t *testing.T) {
	t.Helper()
	f.createUser(t, addrFactoryAdmin, "factory admin", RoleOrgAdmin)
	f.createUser(t, addrFactoryStaff, "factory staff", RoleSimpleUser)
	f.createUser(t, addrShopAdmin, "shop admin", RoleOrgAdmin)
	f.createUser(t, addrShopStaff, "shop staff", RoleSimpleUser)
	f.createUser(t, addrOutsider, "outsider", RoleSimpleUser)
	f.grant(t, RoleManufacturer, addrFactoryAdmin)

	factory, err := f.svc.CreateOrganization(f.ctx, addrFactoryAdmin, "Factory")
	require.NoError(t, err)
	require.Equal(t, uint64(1), factory.ID)
	shop, err := f.svc.CreateOrganization(f.ctx, addrShopAdmin, "Shop")
	require.NoError(t, err)
	require.Equal(t, uint64(2), shop.ID)

	require.NoError(t, f.svc.AddEmployeeToOrganization(f.ctx, addrFactoryAdmin, factory.ID, addrFactoryStaff, MemberEmployee))
	require.NoError(t, f.svc.AddEmployeeToOrganization(f.ctx, addrShopAdmin, shop.ID, addrShopStaff, MemberEmployee))
}

// produce mints one product in the factory and returns it.
func (f *fixture) produce(t *testing.T) Product {
	t.Helper()
	p, err := f.svc.ProduceNewProduct(f.ctx, addrFactoryAdmin, 1, 7, 1500, "hash-genesis", "spec-v1", f.clock.AddDate(1, 0, 0))
	require.NoError(t, err)
	return p
}
