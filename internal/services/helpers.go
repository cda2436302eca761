package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	orderIDPrefix    = "ord_"
	paymentIDPrefix  = "pay_"
	movementIDPrefix = "mov_"
	discountIDPrefix = "dsc_"

	maxFreeTextLength = 500
)

var freeTextPolicy = bluemonday.StrictPolicy()

// sanitizeText strips markup from user supplied reasons and notes and bounds their length.
func sanitizeText(value string) string {
	cleaned := strings.TrimSpace(freeTextPolicy.Sanitize(value))
	if utf8.RuneCountInString(cleaned) > maxFreeTextLength {
		cleaned = string([]rune(cleaned)[:maxFreeTextLength])
	}
	return cleaned
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func unitOrNoop(unit repositories.UnitOfWork) repositories.UnitOfWork {
	if unit == nil {
		return noopUnitOfWork{}
	}
	return unit
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}

func idGenerator(gen func() string) func() string {
	if gen != nil {
		return gen
	}
	return func() string {
		return ulid.Make().String()
	}
}

func loggerOrNoop(logger func(context.Context, string, map[string]any)) func(context.Context, string, map[string]any) {
	if logger == nil {
		return noopLogger
	}
	return logger
}

func valuePtr[T any](v T) *T {
	return &v
}
