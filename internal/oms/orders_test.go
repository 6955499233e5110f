package oms

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// openOrder creates an order from the shop (buyer) to the factory (seller)
// with one produced product on it.
func openOrder(t *testing.T, f *fixture) (Order, Product) {
	t.Helper()
	p := f.produce(t)
	o, err := f.svc.CreateOrder(f.ctx, addrShopAdmin, 2, addrShopAdmin, addrFactoryAdmin, "hash-order", 0)
	require.NoError(t, err)
	require.NoError(t, f.svc.AddProductToOrderByID(f.ctx, addrShopAdmin, o.ID, p.ID))
	o, err = f.svc.GetOrderByID(f.ctx, o.ID)
	require.NoError(t, err)
	return o, p
}

func approveBothSides(t *testing.T, f *fixture, orderID uint64) {
	t.Helper()
	require.NoError(t, f.svc.ApproveOrder(f.ctx, addrShopAdmin, 2, orderID, DecisionAgreement))
	require.NoError(t, f.svc.ApproveOrder(f.ctx, addrFactoryAdmin, 1, orderID, DecisionAgreement))
}

func finishBothSides(t *testing.T, f *fixture, orderID uint64) {
	t.Helper()
	require.NoError(t, f.svc.FinishOrderByID(f.ctx, addrShopAdmin, 2, orderID, DecisionFinished))
	require.NoError(t, f.svc.FinishOrderByID(f.ctx, addrFactoryAdmin, 1, orderID, DecisionFinished))
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	f.withOrganizations(t)

	o, err := f.svc.CreateOrder(f.ctx, addrShopAdmin, 2, addrShopAdmin, addrFactoryAdmin, "hash-order", 3)
	require.NoError(t, err)
	require.Equal(t, uint64(1), o.ID)
	require.Equal(t, uint64(3), o.Mode)
	require.Equal(t, uint64(2), o.Buyer.OrganizationID)
	require.Equal(t, uint64(1), o.Seller.OrganizationID)
	require.Equal(t, DecisionUndecided, o.Buyer.Decision)
	require.Equal(t, DecisionUndecided, o.Seller.Decision)
	require.Len(t, o.States, 1)
	require.Equal(t, OrderUnhandled, o.States[0].State)

	next, err := f.svc.OrderIDCounter(f.ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), next)

	_, err = f.svc.CreateOrder(f.ctx, addrOutsider, 2, addrShopAdmin, addrFactoryAdmin, "h", 0)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.CreateOrder(f.ctx, addrShopAdmin, 2, addrShopAdmin, addrOutsider, "h", 0)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.CreateOrder(f.ctx, addrShopAdmin, 2, addrShopAdmin, addrShopStaff, "h", 0)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestOrderProductListMutation(t *testing.T) {
	f := newFixture(t)
	f.withOrganizations(t)
	o, p := openOrder(t, f)

	require.Len(t, o.Products, 1)
	got, err := f.svc.GetProductByID(f.ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.BlockedFromOrdering)

	// A locked product cannot join a second order.
	second, err := f.svc.CreateOrder(f.ctx, addrShopAdmin, 2, addrShopAdmin, addrFactoryAdmin, "h", 0)
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.AddProductToOrderByID(f.ctx, addrShopAdmin, second.ID, p.ID), ErrIllegalState)

	require.ErrorIs(t, f.svc.AddProductToOrderByID(f.ctx, addrOutsider, o.ID, p.ID), ErrUnauthorized)
	require.ErrorIs(t, f.svc.AddProductToOrderByID(f.ctx, addrShopAdmin, o.ID, p.ID), ErrInvalidInput)
	require.ErrorIs(t, f.svc.RemoveProductFromOrderByID(f.ctx, addrShopAdmin, o.ID, 42), ErrNotFound)

	require.NoError(t, f.svc.RemoveProductFromOrderByID(f.ctx, addrShopAdmin, o.ID, p.ID))
	got, err = f.svc.GetProductByID(f.ctx, p.ID)
	require.NoError(t, err)
	require.False(t, got.BlockedFromOrdering)
	o, err = f.svc.GetOrderByID(f.ctx, o.ID)
	require.NoError(t, err)
	require.Empty(t, o.Products)
}

func TestOrderProductListSealedAfterDecision(t *testing.T) {
	f := newFixture(t)
	f.withOrganizations(t)
	o, p := openOrder(t, f)
	extra := f.produce(t)

	require.NoError(t, f.svc.ApproveOrder(f.ctx, addrShopAdmin, 2, o.ID, DecisionAgreement))

	require.ErrorIs(t, f.svc.AddProductToOrderByID(f.ctx, addrShopAdmin, o.ID, extra.ID), ErrIllegalState)
	require.ErrorIs(t, f.svc.RemoveProductFromOrderByID(f.ctx, addrShopAdmin, o.ID, p.ID), ErrIllegalState)
}

func TestApproveOrder(t *testing.T) {
	f := newFixture(t)
	f.withOrganizations(t)
	o, _ := openOrder(t, f)

	require.ErrorIs(t, f.svc.ApproveOrder(f.ctx, addrShopAdmin, 2, o.ID, DecisionFinished), ErrInvalidInput)
	require.ErrorIs(t, f.svc.ApproveOrder(f.ctx, addrOutsider, 2, o.ID, DecisionAgreement), ErrUnauthorized)
	require.ErrorIs(t, f.svc.ApproveOrder(f.ctx, addrShopAdmin, 99, o.ID, DecisionAgreement), ErrUnauthorized)
	// The shop admin cannot sign for the factory side.
	require.ErrorIs(t, f.svc.ApproveOrder(f.ctx, addrShopAdmin, 1, o.ID, DecisionAgreement), ErrUnauthorized)

	approveBothSides(t, f, o.ID)
	got, err := f.svc.GetOrderByID(f.ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, DecisionAgreement, got.Buyer.Decision)
	require.Equal(t, DecisionAgreement, got.Seller.Decision)
}

func TestRefusalIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.withOrganizations(t)
	o, p := openOrder(t, f)

	require.NoError(t, f.svc.ApproveOrder(f.ctx, addrFactoryAdmin, 1, o.ID, DecisionRefusal))

	require.ErrorIs(t, f.svc.ApproveOrder(f.ctx, addrShopAdmin, 2, o.ID, DecisionAgreement), ErrIllegalState)
	require.ErrorIs(t, f.svc.AddProductToOrderByID(f.ctx, addrShopAdmin, o.ID, p.ID), ErrIllegalState)
	require.ErrorIs(t, f.svc.UpdateOrderStateByID(f.ctx, addrFactoryAdmin, o.ID, "h", OrderInTransit, ProductInTransit), ErrIllegalState)
	require.ErrorIs(t, f.svc.FinishOrderByID(f.ctx, addrShopAdmin, 2, o.ID, DecisionFinished), ErrIllegalState)
}

func TestUpdateOrderState(t *testing.T) {
	f := newFixture(t)
	f.withOrganizations(t)
	o, p := openOrder(t, f)

	// Not before both agreements.
	require.ErrorIs(t, f.svc.UpdateOrderStateByID(f.ctx, addrFactoryAdmin, o.ID, "h", OrderInTransit, ProductInTransit), ErrIllegalState)

	approveBothSides(t, f, o.ID)

	// Only the seller organization's authorized sellers may progress it.
	require.ErrorIs(t, f.svc.UpdateOrderStateByID(f.ctx, addrShopAdmin, o.ID, "h", OrderInTransit, ProductInTransit), ErrUnauthorized)

	require.NoError(t, f.svc.UpdateOrderStateByID(f.ctx, addrFactoryAdmin, o.ID, "hash-transit", OrderInTransit, ProductInTransit))

	got, err := f.svc.GetOrderByID(f.ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.States, 2)
	require.Equal(t, OrderInTransit, got.States[1].State)

	// The product state is forwarded to every untransferred listed product.
	prod, err := f.svc.GetProductByID(f.ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, ProductInTransit, prod.LastState().State)
}

func TestFinishOrder(t *testing.T) {
	f := newFixture(t)
	f.withOrganizations(t)
	o, _ := openOrder(t, f)

	require.ErrorIs(t, f.svc.FinishOrderByID(f.ctx, addrShopAdmin, 2, o.ID, DecisionFinished), ErrIllegalState)

	approveBothSides(t, f, o.ID)
	require.ErrorIs(t, f.svc.FinishOrderByID(f.ctx, addrShopAdmin, 2, o.ID, DecisionAgreement), ErrInvalidInput)

	require.NoError(t, f.svc.FinishOrderByID(f.ctx, addrShopAdmin, 2, o.ID, DecisionFinished))
	got, err := f.svc.GetOrderByID(f.ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, DecisionFinished, got.Buyer.Decision)
	require.Equal(t, DecisionAgreement, got.Seller.Decision)
}

func TestApproveTransferMovesCustodyOnce(t *testing.T) {
	f := newFixture(t)
	f.withOrganizations(t)
	o, p := openOrder(t, f)

	// Not before both sides finished.
	require.ErrorIs(t, f.svc.ApproveTransferringProductsByOrderID(f.ctx, addrShopAdmin, 2, o.ID, true), ErrIllegalState)

	approveBothSides(t, f, o.ID)
	finishBothSides(t, f, o.ID)

	// One-sided approval records intent but moves nothing.
	require.NoError(t, f.svc.ApproveTransferringProductsByOrderID(f.ctx, addrFactoryAdmin, 1, o.ID, true))
	factory, err := f.svc.GetOrganizationByID(f.ctx, 1)
	require.NoError(t, err)
	require.True(t, factory.HoldsProduct(p.ID))

	// Repeating the same side is idempotent and still moves nothing.
	require.NoError(t, f.svc.ApproveTransferringProductsByOrderID(f.ctx, addrFactoryAdmin, 1, o.ID, true))
	factory, err = f.svc.GetOrganizationByID(f.ctx, 1)
	require.NoError(t, err)
	require.True(t, factory.HoldsProduct(p.ID))

	// The second distinct side triggers the atomic move.
	require.NoError(t, f.svc.ApproveTransferringProductsByOrderID(f.ctx, addrShopAdmin, 2, o.ID, true))

	factory, err = f.svc.GetOrganizationByID(f.ctx, 1)
	require.NoError(t, err)
	require.False(t, factory.HoldsProduct(p.ID))
	shop, err := f.svc.GetOrganizationByID(f.ctx, 2)
	require.NoError(t, err)
	require.True(t, shop.HoldsProduct(p.ID))

	got, err := f.svc.GetOrderByID(f.ctx, o.ID)
	require.NoError(t, err)
	require.True(t, got.Products[0].Transferred)

	prod, err := f.svc.GetProductByID(f.ctx, p.ID)
	require.NoError(t, err)
	require.False(t, prod.BlockedFromOrdering)
	require.Equal(t, ProductOwnerWasChanged, prod.LastState().State)
	require.Equal(t, uint64(2), prod.OwnershipHistory[len(prod.OwnershipHistory)-1].OrganizationID)

	// A completed transfer cannot run again.
	err = f.svc.ApproveTransferringProductsByOrderID(f.ctx, addrShopAdmin, 2, o.ID, true)
	require.ErrorIs(t, err, ErrIllegalState)
	err = f.svc.UpdateOrderStateByID(f.ctx, addrFactoryAdmin, o.ID, "h", OrderInTransit, ProductInTransit)
	require.ErrorIs(t, err, ErrIllegalState)
}

func TestApproveTransferCanBeWithdrawn(t *testing.T) {
	f := newFixture(t)
	f.withOrganizations(t)
	o, p := openOrder(t, f)
	approveBothSides(t, f, o.ID)
	finishBothSides(t, f, o.ID)

	require.NoError(t, f.svc.ApproveTransferringProductsByOrderID(f.ctx, addrFactoryAdmin, 1, o.ID, true))
	require.NoError(t, f.svc.ApproveTransferringProductsByOrderID(f.ctx, addrFactoryAdmin, 1, o.ID, false))

	// With the first approval withdrawn, the buyer's approval stays
	// one-sided and custody does not move.
	require.NoError(t, f.svc.ApproveTransferringProductsByOrderID(f.ctx, addrShopAdmin, 2, o.ID, true))
	factory, err := f.svc.GetOrganizationByID(f.ctx, 1)
	require.NoError(t, err)
	require.True(t, factory.HoldsProduct(p.ID))
}
