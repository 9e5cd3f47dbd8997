package warehouses

import (
	"time"
)

// Kind distinguishes physical sites from mobile stock locations.
type Kind string

const (
	KindFixed      Kind = "fixed"
	KindVehicle    Kind = "vehicle"
	KindTechnician Kind = "technician"
)

// Valid reports whether k is a known warehouse kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFixed, KindVehicle, KindTechnician:
		return true
	}
	return false
}

// Warehouse represents a stock location. Vehicle and technician warehouses
// carry an owner; transfers into them require acceptance by that owner.
type Warehouse struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Kind        Kind      `json:"kind"`
	OwnerUserID *int64    `json:"owner_user_id,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListFilters narrows List results.
type ListFilters struct {
	Kind       *Kind
	OwnerID    *int64
	Search     string
	ActiveOnly bool
	SortBy     string
	SortDir    string
	Page       int
	Limit      int
}
