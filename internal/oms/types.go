// Package oms implements the order-management engine: the global role
// registry, the organization directory, the append-only product ledger and
// the dual-party order workflow. Every mutating operation is authorized
// against the registry and directory before any state is touched, and
// commits through a single ChangeSet so a failed call leaves the store
// unchanged.
package oms

import "time"

// Role is a global capability granted to an actor address.
type Role string

const (
	// RoleAdmin administers every other role. The genesis holder can never
	// lose it.
	RoleAdmin Role = "admin"
	// RoleOrgAdmin permits creating organizations.
	RoleOrgAdmin Role = "org-admin"
	// RoleSeller permits acting on an organization's inventory and orders.
	RoleSeller Role = "seller"
	// RoleManufacturer permits producing new products.
	RoleManufacturer Role = "manufacturer"
	// RoleSimpleUser marks a plain registered account.
	RoleSimpleUser Role = "simple-user"
)

// KnownRole reports whether r is one of the defined roles.
func KnownRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleOrgAdmin, RoleSeller, RoleManufacturer, RoleSimpleUser:
		return true
	}
	return false
}

// MemberRole is an actor's scope within a single organization, distinct from
// the global role registry.
type MemberRole int

const (
	MemberNone MemberRole = iota
	MemberAdmin
	MemberEmployee
)

func (m MemberRole) String() string {
	switch m {
	case MemberAdmin:
		return "Admin"
	case MemberEmployee:
		return "Employee"
	default:
		return "None"
	}
}

// Membership records which organization an actor belongs to. A cleared
// membership is the zero value.
type Membership struct {
	OrganizationID uint64     `json:"organization_id"`
	Role           MemberRole `json:"role"`
	AddedAt        time.Time  `json:"added_at"`
}

// User is a registered actor. The address is an opaque, externally
// authenticated identifier; the engine never owns it, only references it.
type User struct {
	Address    string            `json:"address"`
	Name       string            `json:"name"`
	Metadata   string            `json:"metadata,omitempty"`
	Role       Role              `json:"role"` // role assigned at registration
	Roles      map[Role]struct{} `json:"roles"`
	Membership Membership        `json:"membership"`
	CreatedAt  time.Time         `json:"created_at"`
}

// HasRole reports whether the user currently holds the given role.
func (u User) HasRole(r Role) bool {
	_, ok := u.Roles[r]
	return ok
}

// Clone returns a deep copy safe to hand out as a read projection.
func (u User) Clone() User {
	out := u
	out.Roles = make(map[Role]struct{}, len(u.Roles))
	for r := range u.Roles {
		out.Roles[r] = struct{}{}
	}
	return out
}

// Organization groups an admin, its employees and the inventory of product
// ids the organization currently has custody of.
type Organization struct {
	ID        uint64    `json:"id"`
	Title     string    `json:"title"`
	Admin     string    `json:"admin"`
	Employees []string  `json:"employees"`
	Inventory []uint64  `json:"inventory"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy safe to hand out as a read projection.
func (o Organization) Clone() Organization {
	out := o
	out.Employees = append([]string(nil), o.Employees...)
	out.Inventory = append([]uint64(nil), o.Inventory...)
	return out
}

// HoldsProduct reports whether the product id is in the inventory.
func (o Organization) HoldsProduct(id uint64) bool {
	for _, p := range o.Inventory {
		if p == id {
			return true
		}
	}
	return false
}

// ProductStateEntry is one append-only record in a product's state history.
type ProductStateEntry struct {
	State           ProductState `json:"state"`
	DescriptionHash string       `json:"description_hash"`
	CreatedBy       string       `json:"created_by"`
	CreatedAt       time.Time    `json:"created_at"`
	Price           int64        `json:"price"`
}

// OwnerType distinguishes user-held from organization-held custody.
type OwnerType int

const (
	OwnerUser OwnerType = iota
	OwnerOrganization
)

// OwnershipEntry is one append-only record in a product's ownership history.
type OwnershipEntry struct {
	CreatedAt      time.Time `json:"created_at"`
	Owner          string    `json:"owner"`
	OwnerType      OwnerType `json:"owner_type"`
	OrganizationID uint64    `json:"organization_id"`
}

// Product is a manufactured good tracked by the ledger. It is never deleted;
// terminal conditions are expressed as state codes.
type Product struct {
	ID                  uint64              `json:"id"`
	ProductType         uint64              `json:"product_type"`
	CreatedBy           string              `json:"created_by"`
	CreatedAt           time.Time           `json:"created_at"`
	ExpiresAt           time.Time           `json:"expires_at"` // guarantee deadline
	Specification       string              `json:"specification"`
	StateHistory        []ProductStateEntry `json:"state_history"`
	OwnershipHistory    []OwnershipEntry    `json:"ownership_history"`
	BlockedFromOrdering bool                `json:"is_blocked_from_ordering"`
}

// Clone returns a deep copy safe to hand out as a read projection.
func (p Product) Clone() Product {
	out := p
	out.StateHistory = append([]ProductStateEntry(nil), p.StateHistory...)
	out.OwnershipHistory = append([]OwnershipEntry(nil), p.OwnershipHistory...)
	return out
}

// LastState returns the most recent state entry.
func (p Product) LastState() ProductStateEntry {
	if len(p.StateHistory) == 0 {
		return ProductStateEntry{}
	}
	return p.StateHistory[len(p.StateHistory)-1]
}

// Decision is a member's recorded stance on an order.
type Decision int

const (
	DecisionUndecided Decision = iota
	DecisionAgreement
	DecisionRefusal
	DecisionFinished
)

func (d Decision) String() string {
	switch d {
	case DecisionAgreement:
		return "Agreement"
	case DecisionRefusal:
		return "Refusal"
	case DecisionFinished:
		return "Finished"
	default:
		return "Undecided"
	}
}

// OrderMember is one party of an order: the organization it acts for, the
// address that signs for it, its transfer approval and its decision.
type OrderMember struct {
	OrganizationID uint64   `json:"organization_id"`
	UserAddress    string   `json:"user_address"`
	Transferred    bool     `json:"transferred"`
	Decision       Decision `json:"decision"`
}

// OrderProduct tracks a product inside an order and whether custody has
// moved for it.
type OrderProduct struct {
	ProductID   uint64 `json:"product_id"`
	Transferred bool   `json:"transferred"`
}

// OrderStateEntry is one append-only record in an order's state history.
type OrderStateEntry struct {
	State           OrderState `json:"state"`
	DescriptionHash string     `json:"description_hash"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Order is a dual-party agreement to move products between two
// organizations. Orders are never deleted.
type Order struct {
	ID        uint64            `json:"id"`
	Mode      uint64            `json:"mode"`
	Buyer     OrderMember       `json:"buyer"`
	Seller    OrderMember       `json:"seller"`
	CreatedBy string            `json:"created_by"`
	CreatedAt time.Time         `json:"created_at"`
	Products  []OrderProduct    `json:"product_list"`
	States    []OrderStateEntry `json:"order_state_list"`
}

// Clone returns a deep copy safe to hand out as a read projection.
func (o Order) Clone() Order {
	out := o
	out.Products = append([]OrderProduct(nil), o.Products...)
	out.States = append([]OrderStateEntry(nil), o.States...)
	return out
}

// productsMutable reports whether the product list may still change: neither
// party has recorded any decision yet.
func (o Order) productsMutable() bool {
	return o.Buyer.Decision == DecisionUndecided && o.Seller.Decision == DecisionUndecided
}

// refused reports whether either party recorded a refusal, which is
// terminal-negative.
func (o Order) refused() bool {
	return o.Buyer.Decision == DecisionRefusal || o.Seller.Decision == DecisionRefusal
}

// approved reports whether both parties agreed (a later Finished decision
// implies an earlier agreement).
func (o Order) approved() bool {
	agreedOrBetter := func(d Decision) bool {
		return d == DecisionAgreement || d == DecisionFinished
	}
	return agreedOrBetter(o.Buyer.Decision) && agreedOrBetter(o.Seller.Decision)
}

// finished reports whether both parties marked the order finished.
func (o Order) finished() bool {
	return o.Buyer.Decision == DecisionFinished && o.Seller.Decision == DecisionFinished
}

// transferCompleted reports whether the mutual transfer already executed.
func (o Order) transferCompleted() bool {
	return o.Buyer.Transferred && o.Seller.Transferred
}
