package textutil

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Limits bounds a normalised map. Zero fields are unbounded.
type Limits struct {
	MaxKeys     int
	MaxKeyLen   int
	MaxValueLen int
}

// StripeMetadata mirrors the limits Stripe enforces on object metadata.
var StripeMetadata = Limits{MaxKeys: 50, MaxKeyLen: 40, MaxValueLen: 500}

// NormalizeStringMap trims keys and values and drops entries with empty keys or keys over
// MaxKeyLen. Values are truncated to MaxValueLen runes. When MaxKeys is exceeded the
// lexically smallest keys are kept.
func NormalizeStringMap(values map[string]string, limits Limits) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if limits.MaxKeyLen > 0 && utf8.RuneCountInString(trimmedKey) > limits.MaxKeyLen {
			continue
		}
		result[trimmedKey] = Truncate(strings.TrimSpace(value), limits.MaxValueLen)
	}
	if limits.MaxKeys > 0 && len(result) > limits.MaxKeys {
		keys := make([]string, 0, len(result))
		for key := range result {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys[limits.MaxKeys:] {
			delete(result, key)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// Truncate cuts value to at most max runes. A non-positive max returns value unchanged.
func Truncate(value string, max int) string {
	if max <= 0 || utf8.RuneCountInString(value) <= max {
		return value
	}
	return string([]rune(value)[:max])
}
