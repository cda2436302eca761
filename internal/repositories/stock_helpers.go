package repositories

import domain "github.com/hanko-field/orderflow/internal/domain"

// CompleteMovement fills the derived movement fields once the applied delta is known.
// Every backend calls it so movement records look the same regardless of the store.
func CompleteMovement(movement domain.StockMovement, productID string, delta int, availableAfter int) domain.StockMovement {
	movement.ProductID = productID
	if movement.Quantity == 0 {
		movement.Quantity = abs(delta)
	}
	if movement.Direction == 0 {
		switch {
		case delta < 0:
			movement.Direction = -1
		default:
			movement.Direction = 1
		}
	}
	movement.AvailableAfter = availableAfter
	return movement
}

// IsLowStock applies either the explicit threshold or the level's own reorder level.
func IsLowStock(level domain.StockLevel, threshold int) bool {
	if threshold > 0 {
		return level.Available <= threshold
	}
	return level.IsLow()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
