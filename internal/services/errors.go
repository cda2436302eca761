package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/orderflow/internal/repositories"
)

// ErrorKind is the stable failure category surfaced to callers.
type ErrorKind string

const (
	ErrorKindNone         ErrorKind = ""
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindValidation   ErrorKind = "validation"
	ErrorKindBusinessRule ErrorKind = "business_rule"
	ErrorKindConflict     ErrorKind = "conflict"
	ErrorKindDependency   ErrorKind = "dependency"
)

// ErrRepositoryUnavailable marks persistence failures reported as transient by the store.
var ErrRepositoryUnavailable = errors.New("repository unavailable")

var errorKinds = []struct {
	kind     ErrorKind
	sentinel []error
}{
	{ErrorKindNotFound, []error{
		ErrProductNotFound,
		ErrDiscountCodeNotFound,
		ErrStockNotFound,
		ErrOrderNotFound,
		ErrPaymentNotFound,
	}},
	{ErrorKindValidation, []error{
		ErrCatalogInvalidInput,
		ErrDiscountInvalidInput,
		ErrStockInvalidInput,
		ErrOrderInvalidInput,
		ErrPaymentInvalidInput,
		ErrPaymentVerificationFailed,
		ErrCheckoutInvalidInput,
		ErrPricingInvalidInput,
		ErrCounterInvalidInput,
	}},
	{ErrorKindBusinessRule, []error{
		ErrDiscountExpired,
		ErrDiscountInactive,
		ErrDiscountUsageLimitReached,
		ErrDiscountBelowMinimumCart,
		ErrDiscountPerCustomerLimitReached,
		ErrStockInsufficient,
		ErrOrderInvalidTransition,
		ErrPaymentInvalidState,
		ErrPaymentRetryLimitExceeded,
		ErrPaymentNotRefundable,
		ErrPaymentAlreadyCompleted,
		ErrCounterExhausted,
	}},
	{ErrorKindConflict, []error{
		ErrDiscountConflict,
		ErrOrderConflict,
		ErrPaymentConflict,
		ErrCatalogConflict,
	}},
	{ErrorKindDependency, []error{
		ErrRepositoryUnavailable,
		ErrPaymentGateway,
	}},
}

// ClassifyError resolves any service failure to its error kind. Unknown errors count as dependency failures.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	for _, group := range errorKinds {
		for _, sentinel := range group.sentinel {
			if errors.Is(err, sentinel) {
				return group.kind
			}
		}
	}
	return ErrorKindDependency
}

// mapRepositoryError translates RepositoryError categories into the caller's sentinels.
func mapRepositoryError(err error, notFound error, conflict error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && notFound != nil:
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict() && conflict != nil:
			return fmt.Errorf("%w: %v", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
		}
	}
	return err
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepositoryConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
