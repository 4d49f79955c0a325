package models

import "github.com/google/uuid"

// CardReceipt stores a successful receipts.pay result from the Payme
// card API, one row per paid receipt per user.
type CardReceipt struct {
	BaseModel
	UserID    uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	ReceiptID string    `gorm:"uniqueIndex" json:"receipt_id"`
	Amount    int64     `json:"amount"`
	State     int       `json:"state"`
	PayTime   int64     `json:"pay_time"`
	Raw       []byte    `gorm:"type:jsonb" json:"raw"`
}
