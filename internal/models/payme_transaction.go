package models

import "time"

// PaymeTransaction is one payment attempt. The primary key is the
// provider-supplied transaction id, not a server-generated one. The
// record is never deleted; cancelled and paid rows stay as the
// statement/audit trail.
type PaymeTransaction struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	State       int       `json:"state"`
	Amount      int64     `json:"amount"`
	UserID      string    `gorm:"index" json:"user_id"`
	ProductID   string    `gorm:"index" json:"product_id"`
	Provider    string    `gorm:"index" json:"provider"`
	CreateTime  int64     `json:"create_time"`
	PerformTime int64     `json:"perform_time"`
	CancelTime  int64     `json:"cancel_time"`
	Reason      *int      `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
