package inventories

import "time"

// SessionView is the read contract for a session. While the session is open
// the counters work blind: expected quantities and discrepancies are
// withheld so the count is not biased.
type SessionView struct {
	Session
	Items []ItemView `json:"items"`
}

// ItemView is one product line of the read contract.
type ItemView struct {
	ProductID   int64      `json:"product_id"`
	Lot         string     `json:"lot,omitempty"`
	ExpectedQty *float64   `json:"expected_qty,omitempty"`
	CountedQty  *float64   `json:"counted_qty,omitempty"`
	Discrepancy *float64   `json:"discrepancy,omitempty"`
	CountedAt   *time.Time `json:"counted_at,omitempty"`
}

// NewSessionView builds the view, hiding expected figures while open.
func NewSessionView(session Session, items []CountItem) SessionView {
	view := SessionView{Session: session, Items: make([]ItemView, 0, len(items))}
	revealed := session.Status == StatusCompleted
	for _, item := range items {
		iv := ItemView{
			ProductID:  item.ProductID,
			Lot:        item.Lot,
			CountedQty: item.CountedQty,
			CountedAt:  item.CountedAt,
		}
		if revealed {
			expected := item.ExpectedQty
			iv.ExpectedQty = &expected
			if item.CountedQty != nil {
				d := item.Discrepancy()
				iv.Discrepancy = &d
			}
		}
		view.Items = append(view.Items, iv)
	}
	return view
}
