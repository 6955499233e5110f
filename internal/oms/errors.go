package oms

import "errors"

var (
	// ErrUnauthorized is returned when the caller lacks the role or
	// membership the operation requires.
	ErrUnauthorized = errors.New("oms: unauthorized")
	// ErrNotFound is returned when a referenced user, organization, product
	// or order does not exist.
	ErrNotFound = errors.New("oms: not found")
	// ErrDuplicateIdentifier is returned when an address is registered twice.
	ErrDuplicateIdentifier = errors.New("oms: duplicate identifier")
	// ErrProtectedRole is returned when an operation would strip the root
	// account of its administrative role.
	ErrProtectedRole = errors.New("oms: protected role")
	// ErrIllegalState is returned when an order operation runs against the
	// workflow's current phase.
	ErrIllegalState = errors.New("oms: illegal state")
	// ErrNotInInventory is returned when an organization acts on a product
	// it has no custody of.
	ErrNotInInventory = errors.New("oms: product not in inventory")
	// ErrPartialApproval is returned when a mutual transfer is attempted
	// without both parties having approved it.
	ErrPartialApproval = errors.New("oms: partial approval")
	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("oms: invalid input")
)
