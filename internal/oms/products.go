package oms

import (
	"context"
	"fmt"
	"time"
)

// ProduceNewProduct mints a new product under a sequential id and puts it in
// the organization's custody. The caller must be an authorized seller of the
// organization and hold the manufacturer role. A rejected call consumes no
// id.
func (s *Service) ProduceNewProduct(ctx context.Context, caller string, orgID, productType uint64, price int64, descriptionHash, specification string, guaranteeUntil time.Time) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, org, err := s.requireAuthorizedSeller(ctx, caller, orgID)
	if err != nil {
		return Product{}, err
	}
	if !u.HasRole(RoleManufacturer) {
		return Product{}, fmt.Errorf("%w: caller %s lacks role %s", ErrUnauthorized, u.Address, RoleManufacturer)
	}
	if price < 0 {
		return Product{}, fmt.Errorf("%w: price must be >= 0", ErrInvalidInput)
	}

	id, err := s.store.NextProductID(ctx)
	if err != nil {
		return Product{}, err
	}
	now := s.now()
	p := Product{
		ID:            id,
		ProductType:   productType,
		CreatedBy:     u.Address,
		CreatedAt:     now,
		ExpiresAt:     guaranteeUntil,
		Specification: specification,
		StateHistory: []ProductStateEntry{{
			State:           ProductProduced,
			DescriptionHash: descriptionHash,
			CreatedBy:       u.Address,
			CreatedAt:       now,
			Price:           price,
		}},
		OwnershipHistory: []OwnershipEntry{{
			CreatedAt:      now,
			Owner:          u.Address,
			OwnerType:      OwnerOrganization,
			OrganizationID: org.ID,
		}},
	}
	org.Inventory = append(org.Inventory, id)

	cs := ChangeSet{Products: []Product{p}, Organizations: []Organization{org}}
	if err := s.store.Apply(ctx, cs); err != nil {
		return Product{}, err
	}
	return p.Clone(), nil
}

// UpdateProductState appends one entry to the product's state history. The
// caller must be an authorized seller of the organization and the
// organization must currently hold the product.
func (s *Service) UpdateProductState(ctx context.Context, caller string, orgID, productID uint64, state ProductState, price int64, descriptionHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, org, err := s.requireAuthorizedSeller(ctx, caller, orgID)
	if err != nil {
		return err
	}
	if !KnownProductState(state) {
		return fmt.Errorf("%w: unknown product state %d", ErrInvalidInput, state)
	}
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !org.HoldsProduct(productID) {
		return fmt.Errorf("%w: organization %d does not hold product %d", ErrNotInInventory, orgID, productID)
	}

	p.StateHistory = append(p.StateHistory, ProductStateEntry{
		State:           state,
		DescriptionHash: descriptionHash,
		CreatedBy:       u.Address,
		CreatedAt:       s.now(),
		Price:           price,
	})
	return s.store.Apply(ctx, ChangeSet{Products: []Product{p}})
}

// TransferProductOrganizationToOrganization moves a single product between
// two organizations immediately, outside the order workflow. The caller must
// be an authorized seller of the source organization; products locked into
// an unresolved order cannot move.
func (s *Service) TransferProductOrganizationToOrganization(ctx context.Context, caller string, productID, fromOrgID, toOrgID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, from, err := s.requireAuthorizedSeller(ctx, caller, fromOrgID)
	if err != nil {
		return err
	}
	if fromOrgID == toOrgID {
		return fmt.Errorf("%w: source and destination organizations are the same", ErrInvalidInput)
	}
	to, err := s.store.GetOrganization(ctx, toOrgID)
	if err != nil {
		return err
	}
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !from.HoldsProduct(productID) {
		return fmt.Errorf("%w: organization %d does not hold product %d", ErrNotInInventory, fromOrgID, productID)
	}
	if p.BlockedFromOrdering {
		return fmt.Errorf("%w: product %d is locked into an order", ErrIllegalState, productID)
	}

	now := s.now()
	from.Inventory = removeUint64(from.Inventory, productID)
	to.Inventory = append(to.Inventory, productID)
	p.OwnershipHistory = append(p.OwnershipHistory, OwnershipEntry{
		CreatedAt:      now,
		Owner:          to.Admin,
		OwnerType:      OwnerOrganization,
		OrganizationID: to.ID,
	})
	p.StateHistory = append(p.StateHistory, ProductStateEntry{
		State:           ProductOwnerWasChanged,
		CreatedBy:       u.Address,
		CreatedAt:       now,
		Price:           p.LastState().Price,
	})

	cs := ChangeSet{Products: []Product{p}, Organizations: []Organization{from, to}}
	return s.store.Apply(ctx, cs)
}

// GetProductByID returns the product with its full histories.
func (s *Service) GetProductByID(ctx context.Context, id uint64) (Product, error) {
	return s.store.GetProduct(ctx, id)
}

// LastProductID returns the id of the most recently produced product, zero
// when nothing has been produced yet.
func (s *Service) LastProductID(ctx context.Context) (uint64, error) {
	next, err := s.store.NextProductID(ctx)
	if err != nil {
		return 0, err
	}
	return next - 1, nil
}

func removeUint64(list []uint64, v uint64) []uint64 {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
