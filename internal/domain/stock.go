package domain

import "time"

// DefaultReorderLevel is the low-stock threshold applied when a level has none configured.
const DefaultReorderLevel = 10

// StockLevel holds the ledger counters for a single product.
type StockLevel struct {
	ProductID    string
	Available    int
	Reserved     int
	ReorderLevel int
	UpdatedAt    time.Time
}

// Total returns available plus reserved units.
func (l StockLevel) Total() int {
	return l.Available + l.Reserved
}

// IsLow reports whether availability sits at or below the reorder level.
func (l StockLevel) IsLow() bool {
	threshold := l.ReorderLevel
	if threshold <= 0 {
		threshold = DefaultReorderLevel
	}
	return l.Available <= threshold
}

// MovementType classifies ledger movements.
type MovementType string

const (
	MovementInbound       MovementType = "inbound"
	MovementOutbound      MovementType = "outbound"
	MovementAdjustment    MovementType = "adjustment"
	MovementReturn        MovementType = "return"
	MovementTransfer      MovementType = "transfer"
	MovementPhysicalCount MovementType = "physical_count"
	MovementReserve       MovementType = "reserve"
	MovementRelease       MovementType = "release"
)

// StockMovement is an append-only ledger entry. Quantity is always positive; Direction carries the sign
// applied to the available counter.
type StockMovement struct {
	ID             string
	ProductID      string
	Type           MovementType
	Quantity       int
	Direction      int
	Reference      string
	Reason         string
	ActorID        string
	AvailableAfter int
	CreatedAt      time.Time
}

// Delta returns the signed change applied to the available counter.
func (m StockMovement) Delta() int {
	return m.Quantity * m.Direction
}
