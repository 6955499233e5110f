// Package pg persists the engine's state in PostgreSQL. Histories,
// inventories and member structs are stored as jsonb documents; Apply runs
// inside a single transaction so one engine operation commits atomically.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"custodia.org/internal/oms"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

var _ oms.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool. Used by tests and cmd wiring.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) GetUser(ctx context.Context, addr string) (oms.User, error) {
	var (
		u             oms.User
		rolesRaw      []byte
		membershipRaw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select address, name, metadata, role, roles, membership, created_at
		from oms_users where address=$1
	`, addr).Scan(&u.Address, &u.Name, &u.Metadata, &u.Role, &rolesRaw, &membershipRaw, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return oms.User{}, fmt.Errorf("%w: user %s", oms.ErrNotFound, addr)
	}
	if err != nil {
		return oms.User{}, err
	}
	if err := json.Unmarshal(rolesRaw, &u.Roles); err != nil {
		return oms.User{}, fmt.Errorf("decode roles for %s: %w", addr, err)
	}
	if err := json.Unmarshal(membershipRaw, &u.Membership); err != nil {
		return oms.User{}, fmt.Errorf("decode membership for %s: %w", addr, err)
	}
	return u, nil
}

func (s *Store) GetOrganization(ctx context.Context, id uint64) (oms.Organization, error) {
	var (
		o            oms.Organization
		employeesRaw []byte
		inventoryRaw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, title, admin, employees, inventory, created_at
		from oms_organizations where id=$1
	`, int64(id)).Scan(&o.ID, &o.Title, &o.Admin, &employeesRaw, &inventoryRaw, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return oms.Organization{}, fmt.Errorf("%w: organization %d", oms.ErrNotFound, id)
	}
	if err != nil {
		return oms.Organization{}, err
	}
	if err := json.Unmarshal(employeesRaw, &o.Employees); err != nil {
		return oms.Organization{}, fmt.Errorf("decode employees for %d: %w", id, err)
	}
	if err := json.Unmarshal(inventoryRaw, &o.Inventory); err != nil {
		return oms.Organization{}, fmt.Errorf("decode inventory for %d: %w", id, err)
	}
	return o, nil
}

func (s *Store) GetProduct(ctx context.Context, id uint64) (oms.Product, error) {
	var (
		p            oms.Product
		statesRaw    []byte
		ownershipRaw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, product_type, created_by, created_at, expires_at, specification,
		       state_history, ownership_history, blocked_from_ordering
		from oms_products where id=$1
	`, int64(id)).Scan(&p.ID, &p.ProductType, &p.CreatedBy, &p.CreatedAt, &p.ExpiresAt,
		&p.Specification, &statesRaw, &ownershipRaw, &p.BlockedFromOrdering)
	if errors.Is(err, sql.ErrNoRows) {
		return oms.Product{}, fmt.Errorf("%w: product %d", oms.ErrNotFound, id)
	}
	if err != nil {
		return oms.Product{}, err
	}
	if err := json.Unmarshal(statesRaw, &p.StateHistory); err != nil {
		return oms.Product{}, fmt.Errorf("decode state history for %d: %w", id, err)
	}
	if err := json.Unmarshal(ownershipRaw, &p.OwnershipHistory); err != nil {
		return oms.Product{}, fmt.Errorf("decode ownership history for %d: %w", id, err)
	}
	return p, nil
}

func (s *Store) GetOrder(ctx context.Context, id uint64) (oms.Order, error) {
	var (
		o           oms.Order
		buyerRaw    []byte
		sellerRaw   []byte
		productsRaw []byte
		statesRaw   []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, mode, buyer, seller, created_by, created_at, products, states
		from oms_orders where id=$1
	`, int64(id)).Scan(&o.ID, &o.Mode, &buyerRaw, &sellerRaw, &o.CreatedBy, &o.CreatedAt, &productsRaw, &statesRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return oms.Order{}, fmt.Errorf("%w: order %d", oms.ErrNotFound, id)
	}
	if err != nil {
		return oms.Order{}, err
	}
	for _, dec := range []struct {
		raw []byte
		dst any
	}{
		{buyerRaw, &o.Buyer},
		{sellerRaw, &o.Seller},
		{productsRaw, &o.Products},
		{statesRaw, &o.States},
	} {
		if err := json.Unmarshal(dec.raw, dec.dst); err != nil {
			return oms.Order{}, fmt.Errorf("decode order %d: %w", id, err)
		}
	}
	return o, nil
}

func (s *Store) NextOrganizationID(ctx context.Context) (uint64, error) {
	return s.nextID(ctx, "oms_organizations")
}

func (s *Store) NextProductID(ctx context.Context) (uint64, error) {
	return s.nextID(ctx, "oms_products")
}

func (s *Store) NextOrderID(ctx context.Context) (uint64, error) {
	return s.nextID(ctx, "oms_orders")
}

func (s *Store) nextID(ctx context.Context, table string) (uint64, error) {
	var next int64
	// Tables are fixed identifiers, never user input.
	query := `select coalesce(max(id),0)+1 from ` + table
	if err := s.db.QueryRowContext(ctx, query).Scan(&next); err != nil {
		return 0, err
	}
	return uint64(next), nil
}

// Apply commits every entity in the change set inside one transaction.
func (s *Store) Apply(ctx context.Context, cs oms.ChangeSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range cs.Users {
		if err := applyUser(ctx, tx, u); err != nil {
			return mapPGError(err)
		}
	}
	for _, o := range cs.Organizations {
		if err := applyOrganization(ctx, tx, o); err != nil {
			return mapPGError(err)
		}
	}
	for _, p := range cs.Products {
		if err := applyProduct(ctx, tx, p); err != nil {
			return mapPGError(err)
		}
	}
	for _, o := range cs.Orders {
		if err := applyOrder(ctx, tx, o); err != nil {
			return mapPGError(err)
		}
	}
	return tx.Commit()
}

func applyUser(ctx context.Context, tx *sql.Tx, u oms.User) error {
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return err
	}
	membership, err := json.Marshal(u.Membership)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into oms_users(address, name, metadata, role, roles, membership, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (address) do update
		set name=excluded.name, metadata=excluded.metadata, role=excluded.role,
		    roles=excluded.roles, membership=excluded.membership
	`, u.Address, u.Name, u.Metadata, string(u.Role), roles, membership, u.CreatedAt)
	return err
}

func applyOrganization(ctx context.Context, tx *sql.Tx, o oms.Organization) error {
	employees, err := json.Marshal(emptySlice(o.Employees))
	if err != nil {
		return err
	}
	inventory, err := json.Marshal(emptyUint64Slice(o.Inventory))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into oms_organizations(id, title, admin, employees, inventory, created_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (id) do update
		set title=excluded.title, admin=excluded.admin,
		    employees=excluded.employees, inventory=excluded.inventory
	`, int64(o.ID), o.Title, o.Admin, employees, inventory, o.CreatedAt)
	return err
}

func applyProduct(ctx context.Context, tx *sql.Tx, p oms.Product) error {
	states, err := json.Marshal(p.StateHistory)
	if err != nil {
		return err
	}
	ownership, err := json.Marshal(p.OwnershipHistory)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into oms_products(id, product_type, created_by, created_at, expires_at,
		                         specification, state_history, ownership_history, blocked_from_ordering)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		on conflict (id) do update
		set state_history=excluded.state_history, ownership_history=excluded.ownership_history,
		    blocked_from_ordering=excluded.blocked_from_ordering
	`, int64(p.ID), int64(p.ProductType), p.CreatedBy, p.CreatedAt, p.ExpiresAt,
		p.Specification, states, ownership, p.BlockedFromOrdering)
	return err
}

func applyOrder(ctx context.Context, tx *sql.Tx, o oms.Order) error {
	buyer, err := json.Marshal(o.Buyer)
	if err != nil {
		return err
	}
	seller, err := json.Marshal(o.Seller)
	if err != nil {
		return err
	}
	products, err := json.Marshal(o.Products)
	if err != nil {
		return err
	}
	states, err := json.Marshal(o.States)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into oms_orders(id, mode, buyer, seller, created_by, created_at, products, states)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (id) do update
		set buyer=excluded.buyer, seller=excluded.seller,
		    products=excluded.products, states=excluded.states
	`, int64(o.ID), int64(o.Mode), buyer, seller, o.CreatedBy, o.CreatedAt, products, states)
	return err
}

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", oms.ErrDuplicateIdentifier, pgErr.ConstraintName)
	}
	return err
}

// jsonb columns always hold arrays, never null.
func emptySlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func emptyUint64Slice(in []uint64) []uint64 {
	if in == nil {
		return []uint64{}
	}
	return in
}
