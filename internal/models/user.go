package models

import (
	"time"

	"github.com/LaxRaj/the-garage/internal/utils"
)

// Role is the authorization level carried by an identity token.
type Role string

const (
	RoleUser       Role = "user"
	RoleContractor Role = "contractor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleContractor
}

// User is a buyer or contractor known to the storefront.
type User struct {
	Base        `bson:",inline"`
	DisplayName string    `bson:"display_name" json:"display_name"`
	Email       string    `bson:"email,omitempty" json:"email,omitempty"`
	Role        Role      `bson:"role" json:"role"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// Identity is the authenticated caller as asserted by a verified token.
type Identity struct {
	UserID      utils.SixID `json:"user_id"`
	DisplayName string      `json:"display_name"`
	Role        Role        `json:"role"`
}

func (i Identity) IsContractor() bool {
	return i.Role == RoleContractor
}
