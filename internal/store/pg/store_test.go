package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"custodia.org/internal/oms"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestGetUserScansJSONColumns(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"address", "name", "metadata", "role", "roles", "membership", "created_at"}).
		AddRow("0xabc", "Alice", "meta", "seller",
			[]byte(`{"seller":{},"manufacturer":{}}`),
			[]byte(`{"organization_id":3,"role":2,"added_at":"2026-03-01T12:00:00Z"}`),
			created)
	mock.ExpectQuery("select address, name, metadata, role, roles, membership").WithArgs("0xabc").WillReturnRows(rows)

	u, err := store.GetUser(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !u.HasRole(oms.RoleManufacturer) || !u.HasRole(oms.RoleSeller) {
		t.Fatalf("roles not decoded: %v", u.Roles)
	}
	if u.Membership.OrganizationID != 3 || u.Membership.Role != oms.MemberEmployee {
		t.Fatalf("membership not decoded: %+v", u.Membership)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetMissingRowsMapToNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("from oms_users").WithArgs("0xghost").WillReturnRows(sqlmock.NewRows([]string{"address"}))
	if _, err := store.GetUser(ctx, "0xghost"); !errors.Is(err, oms.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectQuery("from oms_organizations where").WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.GetOrganization(ctx, 9); !errors.Is(err, oms.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectQuery("from oms_products where").WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.GetProduct(ctx, 9); !errors.Is(err, oms.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectQuery("from oms_orders where").WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.GetOrder(ctx, 9); !errors.Is(err, oms.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestNextIDPeeksCounter(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select coalesce\(max\(id\),0\)\+1 from oms_products`).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(42)))

	next, err := store.NextProductID(context.Background())
	if err != nil {
		t.Fatalf("NextProductID: %v", err)
	}
	if next != 42 {
		t.Fatalf("unexpected next id: %d", next)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyCommitsInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into oms_users").
		WithArgs("0xabc", "Alice", "", "seller", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into oms_organizations").
		WithArgs(int64(1), "Factory", "0xabc", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into oms_products").
		WithArgs(int64(5), int64(7), "0xabc", sqlmock.AnyArg(), sqlmock.AnyArg(), "spec-v1",
			sqlmock.AnyArg(), sqlmock.AnyArg(), false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	cs := oms.ChangeSet{
		Users:         []oms.User{{Address: "0xabc", Name: "Alice", Role: oms.RoleSeller}},
		Organizations: []oms.Organization{{ID: 1, Title: "Factory", Admin: "0xabc"}},
		Products:      []oms.Product{{ID: 5, ProductType: 7, CreatedBy: "0xabc", Specification: "spec-v1"}},
	}
	if err := store.Apply(context.Background(), cs); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into oms_users").
		WithArgs("0xabc", "Alice", "", "seller", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "oms_users_pkey"})
	mock.ExpectRollback()

	cs := oms.ChangeSet{Users: []oms.User{{Address: "0xabc", Name: "Alice", Role: oms.RoleSeller}}}
	err := store.Apply(context.Background(), cs)
	if !errors.Is(err, oms.ErrDuplicateIdentifier) {
		t.Fatalf("expected ErrDuplicateIdentifier, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
