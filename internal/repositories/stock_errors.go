package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock ledger operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates the mutation would drive available or reserved below zero.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorNotFound indicates the product has no stock record.
	StockErrorNotFound StockErrorCode = "stock_not_found"
	// StockErrorInvalidInput indicates the mutation itself is malformed.
	StockErrorInvalidInput StockErrorCode = "stock_invalid_input"
)

// StockError wraps ledger failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Available int
	Requested int
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, productID string, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:      code,
		ProductID: productID,
		Message:   message,
		Err:       err,
	}
}

// NewInsufficientStockError reports a rejected debit with the observed availability.
func NewInsufficientStockError(productID string, available, requested int) *StockError {
	err := NewStockError(StockErrorInsufficient, productID,
		fmt.Sprintf("product %s has %d available, %d requested", productID, available, requested), nil)
	err.Available = available
	err.Requested = requested
	return err
}
