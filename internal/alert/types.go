package alert

import (
	"context"
	"time"
)

// BoundKind identifies which configured bound a reading violated.
type BoundKind string

// Bound kinds.
const (
	BoundMin BoundKind = "min"
	BoundMax BoundKind = "max"
)

// Alert is one recorded threshold violation.
type Alert struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"device_id"`
	Observed float64   `json:"observed"`
	Bound    float64   `json:"bound"`
	Kind     BoundKind `json:"kind"`

	CreatedAt time.Time `json:"created_at"`
}

// Violation is a single out-of-range finding from Evaluate, before it
// is persisted or notified.
type Violation struct {
	Observed float64
	Bound    float64
	Kind     BoundKind
}

// Notifier delivers out-of-range notifications. Implementations must
// tolerate being called once per violated bound per reading; the
// pipeline performs no deduplication.
type Notifier interface {
	NotifyOutOfRange(ctx context.Context, deviceID string, observed, bound float64, kind BoundKind) error
}

// Evaluate checks a reading scalar against a device's configured bounds
// and returns zero or more violations. A nil scalar or a device without
// bounds yields nothing. Each violated bound produces exactly one
// violation for this reading.
func Evaluate(scalar *float64, minValue, maxValue *float64) []Violation {
	if scalar == nil {
		return nil
	}

	var violations []Violation
	if minValue != nil && *scalar < *minValue {
		violations = append(violations, Violation{
			Observed: *scalar,
			Bound:    *minValue,
			Kind:     BoundMin,
		})
	}
	if maxValue != nil && *scalar > *maxValue {
		violations = append(violations, Violation{
			Observed: *scalar,
			Bound:    *maxValue,
			Kind:     BoundMax,
		})
	}
	return violations
}
