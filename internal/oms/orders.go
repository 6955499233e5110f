package oms

import (
	"context"
	"fmt"
	"strings"
)

// CreateOrder opens a dual-party order between the caller's (buyer)
// organization and the organization the seller address belongs to. The
// caller must be an authorized seller of the buyer organization. The order
// starts with an Unhandled state entry and both decisions Undecided.
func (s *Service) CreateOrder(ctx context.Context, caller string, orgID uint64, buyerAddr, sellerAddr, descriptionHash string, mode uint64) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, _, err := s.requireAuthorizedSeller(ctx, caller, orgID)
	if err != nil {
		return Order{}, err
	}
	buyer, err := s.loadUser(ctx, buyerAddr)
	if err != nil {
		return Order{}, err
	}
	if buyer.Membership.OrganizationID != orgID || buyer.Membership.Role == MemberNone {
		return Order{}, fmt.Errorf("%w: buyer %s is not a member of organization %d", ErrInvalidInput, buyerAddr, orgID)
	}
	seller, err := s.loadUser(ctx, sellerAddr)
	if err != nil {
		return Order{}, err
	}
	if seller.Membership.Role == MemberNone {
		return Order{}, fmt.Errorf("%w: seller %s belongs to no organization", ErrInvalidInput, sellerAddr)
	}
	if seller.Membership.OrganizationID == orgID {
		return Order{}, fmt.Errorf("%w: buyer and seller organizations must differ", ErrInvalidInput)
	}
	if _, err := s.store.GetOrganization(ctx, seller.Membership.OrganizationID); err != nil {
		return Order{}, err
	}

	id, err := s.store.NextOrderID(ctx)
	if err != nil {
		return Order{}, err
	}
	now := s.now()
	o := Order{
		ID:   id,
		Mode: mode,
		Buyer: OrderMember{
			OrganizationID: orgID,
			UserAddress:    buyer.Address,
		},
		Seller: OrderMember{
			OrganizationID: seller.Membership.OrganizationID,
			UserAddress:    seller.Address,
		},
		CreatedBy: u.Address,
		CreatedAt: now,
		States: []OrderStateEntry{{
			State:           OrderUnhandled,
			DescriptionHash: descriptionHash,
			CreatedBy:       u.Address,
			CreatedAt:       now,
		}},
	}
	if err := s.store.Apply(ctx, ChangeSet{Orders: []Order{o}}); err != nil {
		return Order{}, err
	}
	return o.Clone(), nil
}

// AddProductToOrderByID puts a product on the order's list and locks it
// against other orders and direct transfers. Allowed only while neither
// party has recorded a decision. The product must be in the seller
// organization's custody.
func (s *Service) AddProductToOrderByID(ctx context.Context, caller string, orderID, productID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !o.productsMutable() {
		return fmt.Errorf("%w: order %d product list is sealed", ErrIllegalState, orderID)
	}
	if err := s.requireOrderParticipant(ctx, caller, o); err != nil {
		return err
	}
	sellerOrg, err := s.store.GetOrganization(ctx, o.Seller.OrganizationID)
	if err != nil {
		return err
	}
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !sellerOrg.HoldsProduct(productID) {
		return fmt.Errorf("%w: organization %d does not hold product %d", ErrNotInInventory, sellerOrg.ID, productID)
	}
	if p.BlockedFromOrdering {
		return fmt.Errorf("%w: product %d is locked into an order", ErrIllegalState, productID)
	}
	for _, op := range o.Products {
		if op.ProductID == productID {
			return fmt.Errorf("%w: product %d is already on order %d", ErrInvalidInput, productID, orderID)
		}
	}

	o.Products = append(o.Products, OrderProduct{ProductID: productID})
	p.BlockedFromOrdering = true
	return s.store.Apply(ctx, ChangeSet{Orders: []Order{o}, Products: []Product{p}})
}

// RemoveProductFromOrderByID takes a product off the order's list and
// unlocks it. Allowed only while neither party has recorded a decision.
func (s *Service) RemoveProductFromOrderByID(ctx context.Context, caller string, orderID, productID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !o.productsMutable() {
		return fmt.Errorf("%w: order %d product list is sealed", ErrIllegalState, orderID)
	}
	if err := s.requireOrderParticipant(ctx, caller, o); err != nil {
		return err
	}

	found := false
	kept := o.Products[:0]
	for _, op := range o.Products {
		if op.ProductID == productID {
			found = true
			continue
		}
		kept = append(kept, op)
	}
	if !found {
		return fmt.Errorf("%w: product %d is not on order %d", ErrNotFound, productID, orderID)
	}
	o.Products = kept

	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	p.BlockedFromOrdering = false
	return s.store.Apply(ctx, ChangeSet{Orders: []Order{o}, Products: []Product{p}})
}

// ApproveOrder records the caller side's Agreement or Refusal. A recorded
// Refusal from either party is terminal: the order admits no further product
// mutation or progression.
func (s *Service) ApproveOrder(ctx context.Context, caller string, orgID, orderID uint64, decision Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if decision != DecisionAgreement && decision != DecisionRefusal {
		return fmt.Errorf("%w: decision must be Agreement or Refusal", ErrInvalidInput)
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.refused() {
		return fmt.Errorf("%w: order %d was refused", ErrIllegalState, orderID)
	}
	member, err := s.requireOrderSide(ctx, caller, &o, orgID)
	if err != nil {
		return err
	}
	if member.Decision == DecisionFinished {
		return fmt.Errorf("%w: order %d side already finished", ErrIllegalState, orderID)
	}

	member.Decision = decision
	return s.store.Apply(ctx, ChangeSet{Orders: []Order{o}})
}

// UpdateOrderStateByID appends an order state entry and forwards a product
// state to every untransferred product on the list. Allowed only after both
// parties agreed, and only to the seller organization's authorized sellers.
func (s *Service) UpdateOrderStateByID(ctx context.Context, caller string, orderID uint64, descriptionHash string, orderState OrderState, productState ProductState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !KnownOrderState(orderState) {
		return fmt.Errorf("%w: unknown order state %d", ErrInvalidInput, orderState)
	}
	if !KnownProductState(productState) {
		return fmt.Errorf("%w: unknown product state %d", ErrInvalidInput, productState)
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.refused() {
		return fmt.Errorf("%w: order %d was refused", ErrIllegalState, orderID)
	}
	if !o.approved() {
		return fmt.Errorf("%w: order %d is not approved by both parties", ErrIllegalState, orderID)
	}
	if o.transferCompleted() {
		return fmt.Errorf("%w: order %d products were already transferred", ErrIllegalState, orderID)
	}
	u, _, err := s.requireAuthorizedSeller(ctx, caller, o.Seller.OrganizationID)
	if err != nil {
		return err
	}

	now := s.now()
	o.States = append(o.States, OrderStateEntry{
		State:           orderState,
		DescriptionHash: descriptionHash,
		CreatedBy:       u.Address,
		CreatedAt:       now,
	})

	var products []Product
	for _, op := range o.Products {
		if op.Transferred {
			continue
		}
		p, err := s.store.GetProduct(ctx, op.ProductID)
		if err != nil {
			return err
		}
		p.StateHistory = append(p.StateHistory, ProductStateEntry{
			State:           productState,
			DescriptionHash: descriptionHash,
			CreatedBy:       u.Address,
			CreatedAt:       now,
			Price:           p.LastState().Price,
		})
		products = append(products, p)
	}
	return s.store.Apply(ctx, ChangeSet{Orders: []Order{o}, Products: products})
}

// FinishOrderByID records the caller side's Finished decision. Each side
// finishes independently, and only after both parties agreed.
func (s *Service) FinishOrderByID(ctx context.Context, caller string, orgID, orderID uint64, decision Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if decision != DecisionFinished {
		return fmt.Errorf("%w: decision must be Finished", ErrInvalidInput)
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.refused() {
		return fmt.Errorf("%w: order %d was refused", ErrIllegalState, orderID)
	}
	if !o.approved() {
		return fmt.Errorf("%w: order %d is not approved by both parties", ErrIllegalState, orderID)
	}
	member, err := s.requireOrderSide(ctx, caller, &o, orgID)
	if err != nil {
		return err
	}

	member.Decision = DecisionFinished
	return s.store.Apply(ctx, ChangeSet{Orders: []Order{o}})
}

// ApproveTransferringProductsByOrderID records the caller side's transfer
// approval. When the second distinct side approves, one commit moves every
// listed product from the seller to the buyer inventory, appends ownership
// entries and unlocks the products. One-sided approval never touches
// inventory, and re-running after completion fails.
func (s *Service) ApproveTransferringProductsByOrderID(ctx context.Context, caller string, orgID, orderID uint64, approve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.transferCompleted() {
		return fmt.Errorf("%w: order %d products were already transferred", ErrIllegalState, orderID)
	}
	if !o.finished() {
		return fmt.Errorf("%w: order %d is not finished by both parties", ErrIllegalState, orderID)
	}
	member, err := s.requireOrderSide(ctx, caller, &o, orgID)
	if err != nil {
		return err
	}

	member.Transferred = approve
	if !o.transferCompleted() {
		return s.store.Apply(ctx, ChangeSet{Orders: []Order{o}})
	}
	cs, err := s.buildOrderTransfer(ctx, &o)
	if err != nil {
		return err
	}
	return s.store.Apply(ctx, cs)
}

// buildOrderTransfer assembles the atomic custody move for a mutually
// approved order. Both approvals are rechecked here so the move can never
// fire one-sided.
func (s *Service) buildOrderTransfer(ctx context.Context, o *Order) (ChangeSet, error) {
	if !o.transferCompleted() {
		return ChangeSet{}, fmt.Errorf("%w: order %d transfer lacks a second approval", ErrPartialApproval, o.ID)
	}
	from, err := s.store.GetOrganization(ctx, o.Seller.OrganizationID)
	if err != nil {
		return ChangeSet{}, err
	}
	to, err := s.store.GetOrganization(ctx, o.Buyer.OrganizationID)
	if err != nil {
		return ChangeSet{}, err
	}

	now := s.now()
	var products []Product
	for i := range o.Products {
		op := &o.Products[i]
		if op.Transferred {
			continue
		}
		p, err := s.store.GetProduct(ctx, op.ProductID)
		if err != nil {
			return ChangeSet{}, err
		}
		if !from.HoldsProduct(op.ProductID) {
			return ChangeSet{}, fmt.Errorf("%w: organization %d does not hold product %d", ErrNotInInventory, from.ID, op.ProductID)
		}
		from.Inventory = removeUint64(from.Inventory, op.ProductID)
		to.Inventory = append(to.Inventory, op.ProductID)
		p.OwnershipHistory = append(p.OwnershipHistory, OwnershipEntry{
			CreatedAt:      now,
			Owner:          to.Admin,
			OwnerType:      OwnerOrganization,
			OrganizationID: to.ID,
		})
		p.StateHistory = append(p.StateHistory, ProductStateEntry{
			State:     ProductOwnerWasChanged,
			CreatedBy: o.Buyer.UserAddress,
			CreatedAt: now,
			Price:     p.LastState().Price,
		})
		p.BlockedFromOrdering = false
		op.Transferred = true
		products = append(products, p)
	}

	return ChangeSet{
		Orders:        []Order{*o},
		Organizations: []Organization{from, to},
		Products:      products,
	}, nil
}

// GetOrderByID returns the order with its members, products and states.
func (s *Service) GetOrderByID(ctx context.Context, id uint64) (Order, error) {
	return s.store.GetOrder(ctx, id)
}

// OrderIDCounter returns the id the next created order will receive.
func (s *Service) OrderIDCounter(ctx context.Context) (uint64, error) {
	return s.store.NextOrderID(ctx)
}

// requireOrderParticipant checks that the caller is an authorized seller of
// either party's organization.
func (s *Service) requireOrderParticipant(ctx context.Context, caller string, o Order) error {
	if _, _, err := s.requireAuthorizedSeller(ctx, caller, o.Buyer.OrganizationID); err == nil {
		return nil
	}
	if _, _, err := s.requireAuthorizedSeller(ctx, caller, o.Seller.OrganizationID); err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s is not a participant of order %d", ErrUnauthorized, caller, o.ID)
}

// requireOrderSide resolves which party the organization id names and checks
// that the caller is one of its authorized sellers. It returns a pointer
// into o so the caller can record the side's decision or approval.
func (s *Service) requireOrderSide(ctx context.Context, caller string, o *Order, orgID uint64) (*OrderMember, error) {
	var member *OrderMember
	switch orgID {
	case o.Buyer.OrganizationID:
		member = &o.Buyer
	case o.Seller.OrganizationID:
		member = &o.Seller
	default:
		return nil, fmt.Errorf("%w: organization %d is not a party of order %d", ErrUnauthorized, orgID, o.ID)
	}
	if _, _, err := s.requireAuthorizedSeller(ctx, strings.TrimSpace(caller), orgID); err != nil {
		return nil, err
	}
	return member, nil
}
