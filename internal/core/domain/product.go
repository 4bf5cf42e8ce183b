package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MaxQuantity bounds quantities and movement magnitudes to the 32-bit
// columns that store them.
const MaxQuantity = math.MaxInt32

type Product struct {
	ID              int64
	Name            string
	Description     string
	Quantity        int
	InitialQuantity int
	Version         int // optimistic locking
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewProduct is the payload for product creation. Quantity becomes the
// product's initial quantity and is not recorded in the ledger.
type NewProduct struct {
	Name        string
	Description string
	Quantity    int
}

func (p NewProduct) Validate() error {
	return validateProductFields(p.Name, p.Quantity)
}

// ProductUpdate carries the full set of mutable fields. Quantity is the
// target quantity on hand, not a delta.
type ProductUpdate struct {
	Name        string
	Description string
	Quantity    int
}

func (u ProductUpdate) Validate() error {
	return validateProductFields(u.Name, u.Quantity)
}

func validateProductFields(name string, quantity int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrValidation)
	}
	if quantity > MaxQuantity {
		return fmt.Errorf("%w: quantity must not exceed %d", ErrValidation, MaxQuantity)
	}
	return nil
}

// AuditReport compares a product's quantity with its ledger.
type AuditReport struct {
	ProductID       int64
	InitialQuantity int
	LedgerBalance   int
	Quantity        int
}

// Expected is the quantity implied by the initial quantity and the ledger.
func (r AuditReport) Expected() int {
	return r.InitialQuantity + r.LedgerBalance
}

func (r AuditReport) Drift() int {
	return r.Quantity - r.Expected()
}

func (r AuditReport) Balanced() bool {
	return r.Drift() == 0
}
