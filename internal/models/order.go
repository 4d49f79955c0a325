package models

import (
	"time"

	"github.com/google/uuid"
)

// Order is the unit a Payme transaction pays for. Prices are integer
// minor units (tiyin); the stored total is the canonical amount every
// incoming transaction is validated against.
type Order struct {
	BaseModel
	UserID      uuid.UUID   `gorm:"type:uuid;index" json:"user_id"`
	User        *User       `json:"user,omitempty"`
	OrderNumber string      `gorm:"uniqueIndex" json:"order_number"`
	Status      string      `json:"status"`
	PlacedAt    time.Time   `json:"placed_at"`
	Price       int64       `json:"price"`
	Currency    string      `json:"currency"`
	Notes       string      `json:"notes"`
	Items       []OrderItem `json:"items,omitempty"`
}

// OrderItem carries the fiscal fields Payme expects in the receipt
// detail block (IKPU code, package code, VAT percent).
type OrderItem struct {
	BaseModel
	OrderID     uuid.UUID `gorm:"type:uuid;index" json:"order_id"`
	Title       string    `json:"title"`
	Price       int64     `json:"price"`
	Count       int       `json:"count"`
	Discount    int64     `json:"discount"`
	VATPercent  int       `json:"vat_percent"`
	Code        string    `json:"code"`
	PackageCode string    `json:"package_code"`
}
