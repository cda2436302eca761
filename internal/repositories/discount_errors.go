package repositories

import "fmt"

// DiscountErrorCode enumerates usage-limit rejections raised by RecordUsage.
type DiscountErrorCode string

const (
	// DiscountErrorUsageLimit indicates the total usage cap is already reached.
	DiscountErrorUsageLimit DiscountErrorCode = "discount_usage_limit"
	// DiscountErrorPerCustomerLimit indicates the customer already used the code the maximum number of times.
	DiscountErrorPerCustomerLimit DiscountErrorCode = "discount_per_customer_limit"
)

// DiscountError is returned when a conditional usage increment loses against the current counters.
type DiscountError struct {
	Code    DiscountErrorCode
	Message string
}

// Error implements the error interface.
func (e *DiscountError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// NewDiscountError constructs a typed discount usage error.
func NewDiscountError(code DiscountErrorCode, discountCode string) *DiscountError {
	return &DiscountError{
		Code:    code,
		Message: fmt.Sprintf("discount %s: %s", discountCode, code),
	}
}
