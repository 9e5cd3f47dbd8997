package tools

import (
	"errors"
	"time"
)

// Checkout is one loan of a tool to a user. A tool has at most one open
// checkout; checking in closes it.
type Checkout struct {
	ID           int64      `json:"id"`
	TenantID     int64      `json:"tenant_id"`
	ToolID       int64      `json:"tool_id"`
	UserID       int64      `json:"user_id"`
	WarehouseID  int64      `json:"warehouse_id"`
	Note         string     `json:"note,omitempty"`
	CheckedOutAt time.Time  `json:"checked_out_at"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	CheckedInAt  *time.Time `json:"checked_in_at,omitempty"`
	CheckinNote  string     `json:"checkin_note,omitempty"`
}

// Open reports whether the tool is still out.
func (c Checkout) Open() bool { return c.CheckedInAt == nil }

// Overdue reports whether an open checkout passed its due date.
func (c Checkout) Overdue(now time.Time) bool {
	return c.Open() && c.DueAt != nil && now.After(*c.DueAt)
}

// CheckoutInput describes a checkout request.
type CheckoutInput struct {
	TenantID    int64
	ToolID      int64
	UserID      int64
	WarehouseID int64
	Note        string
	DueAt       *time.Time
}

// ListFilters narrows checkout listings.
type ListFilters struct {
	ToolID   int64
	UserID   int64
	OpenOnly bool
	Limit    int
	Offset   int
}

// ErrNotFound indicates the checkout does not exist in the tenant.
var ErrNotFound = errors.New("tools: checkout not found")

// ErrAlreadyCheckedOut indicates the tool has an open checkout.
var ErrAlreadyCheckedOut = errors.New("tools: tool is already checked out")

// ErrAlreadyReturned indicates the checkout was already closed.
var ErrAlreadyReturned = errors.New("tools: checkout already closed")
