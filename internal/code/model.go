package code

import (
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusSold      Status = "sold"
	StatusUsed      Status = "used"
)

func (s Status) String() string {
	return string(s)
}

// Code is one issuable identifier (GTIN). Status is mutated only through the
// allocation primitives in this package.
type Code struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	Value     string        `json:"value" db:"value"`
	TypeID    uuid.UUID     `json:"type_id" db:"type_id"`
	OwnerID   uuid.NullUUID `json:"owner_id,omitempty" db:"owner_id"`
	Status    Status        `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// Assignment binds one code to the order that purchased it. The unique index
// on code_id enforces at most one live assignment per code.
type Assignment struct {
	ID              uuid.UUID `json:"id" db:"id"`
	OrderID         uuid.UUID `json:"order_id" db:"order_id"`
	CodeID          uuid.UUID `json:"code_id" db:"code_id"`
	CodeTypeID      uuid.UUID `json:"code_type_id" db:"code_type_id"`
	CertificatePath *string   `json:"certificate_path,omitempty" db:"certificate_path"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// ImportResult reports the outcome of a bulk code import.
type ImportResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}
