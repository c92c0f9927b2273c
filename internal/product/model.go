package product

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Product is a purchasable barcode-licensing product. A published product
// references the code it consumed; deleting it returns that code to sold.
type Product struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    uuid.NullUUID   `json:"user_id,omitempty" db:"user_id"`
	Name      string          `json:"name" db:"name"`
	BasePrice decimal.Decimal `json:"base_price" db:"base_price"`
	ImagePath *string         `json:"image_path,omitempty" db:"image_path"`
	CodeID    uuid.NullUUID   `json:"code_id,omitempty" db:"code_id"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
