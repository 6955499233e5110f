package oms

import "context"

// ChangeSet is the write side of one engine operation: every entity the
// operation touched, in its post-operation form. Apply commits the whole set
// or none of it.
type ChangeSet struct {
	Users         []User
	Organizations []Organization
	Products      []Product
	Orders        []Order
}

// Empty reports whether the change set carries no writes.
func (c ChangeSet) Empty() bool {
	return len(c.Users) == 0 && len(c.Organizations) == 0 &&
		len(c.Products) == 0 && len(c.Orders) == 0
}

// Store is the persistence boundary of the engine. Reads return deep copies;
// callers may mutate the returned values freely. Apply is the only write
// entry point, and id counters advance only through it, so an operation that
// fails validation never consumes an id.
type Store interface {
	GetUser(ctx context.Context, addr string) (User, error)
	GetOrganization(ctx context.Context, id uint64) (Organization, error)
	GetProduct(ctx context.Context, id uint64) (Product, error)
	GetOrder(ctx context.Context, id uint64) (Order, error)

	// NextOrganizationID and friends peek at the id the next created entity
	// will receive without reserving it.
	NextOrganizationID(ctx context.Context) (uint64, error)
	NextProductID(ctx context.Context) (uint64, error)
	NextOrderID(ctx context.Context) (uint64, error)

	Apply(ctx context.Context, cs ChangeSet) error
}
