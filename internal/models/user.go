package models

// User represents an authenticated customer.
type User struct {
	BaseModel
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Phone        string  `gorm:"uniqueIndex" json:"phone"`
	PasswordHash string  `json:"-"`
	Orders       []Order `json:"orders,omitempty"`
}
