// Package merge overlays draft changes onto mirror records.
//
// The merge is pure: it never touches the database and never mutates its
// inputs. Draft storage keeps a FieldPatch per record; the read path applies
// patches on the fly so the mirror stays an untouched copy of the source.
package merge

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/planvista/pfa-server/internal/store"
)

// Optional is one tri-state patch field: undefined (key absent), explicit
// null, or a value. The distinction survives JSON encoding, so a patch stored
// as JSONB and read back still knows which fields the user touched.
type Optional[T any] struct {
	Defined bool
	Value   *T
}

// Set returns a defined Optional carrying value.
func Set[T any](value T) Optional[T] {
	return Optional[T]{Defined: true, Value: &value}
}

// Null returns a defined Optional carrying an explicit null.
func Null[T any]() Optional[T] {
	return Optional[T]{Defined: true}
}

// IsZero reports whether the field is undefined. The omitzero tag uses this
// to drop undefined fields from the encoded patch.
func (o Optional[T]) IsZero() bool {
	return !o.Defined
}

// MarshalJSON encodes the value, or null when the field clears the column.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON marks the field defined. It only runs when the key is
// present, so an absent key leaves the zero (undefined) value.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Defined = true
	if bytes.Equal(data, []byte("null")) {
		o.Value = nil
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// FieldPatch is a sparse set of changes to one mirror record. An undefined
// field means "not changed"; a defined field wins over the mirror value, with
// an explicit null clearing the nullable columns. The non-nullable string
// columns use plain pointers since they cannot be cleared.
type FieldPatch struct {
	Description   *string             `json:"description,omitempty"`
	Category      *string             `json:"category,omitempty"`
	PlanStart     Optional[time.Time] `json:"planStart,omitzero"`
	PlanEnd       Optional[time.Time] `json:"planEnd,omitzero"`
	ForecastStart Optional[time.Time] `json:"forecastStart,omitzero"`
	ForecastEnd   Optional[time.Time] `json:"forecastEnd,omitzero"`
	ActualStart   Optional[time.Time] `json:"actualStart,omitzero"`
	ActualEnd     Optional[time.Time] `json:"actualEnd,omitzero"`
	PlanCost      Optional[float64]   `json:"planCost,omitzero"`
	ForecastCost  Optional[float64]   `json:"forecastCost,omitzero"`
	ActualCost    Optional[float64]   `json:"actualCost,omitzero"`
	Currency      *string             `json:"currency,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *FieldPatch) IsEmpty() bool {
	return p.Description == nil &&
		p.Category == nil &&
		!p.PlanStart.Defined &&
		!p.PlanEnd.Defined &&
		!p.ForecastStart.Defined &&
		!p.ForecastEnd.Defined &&
		!p.ActualStart.Defined &&
		!p.ActualEnd.Defined &&
		!p.PlanCost.Defined &&
		!p.ForecastCost.Defined &&
		!p.ActualCost.Defined &&
		p.Currency == nil
}

// Apply returns a copy of the mirror record with every defined patch field
// substituted. Undefined fields keep the mirror value.
func Apply(mirror *store.MirrorRecord, patch *FieldPatch) store.MirrorRecord {
	merged := *mirror
	if patch == nil {
		return merged
	}
	if patch.Description != nil {
		merged.Description = *patch.Description
	}
	if patch.Category != nil {
		merged.Category = *patch.Category
	}
	if patch.PlanStart.Defined {
		merged.PlanStart = copyTime(patch.PlanStart.Value)
	}
	if patch.PlanEnd.Defined {
		merged.PlanEnd = copyTime(patch.PlanEnd.Value)
	}
	if patch.ForecastStart.Defined {
		merged.ForecastStart = copyTime(patch.ForecastStart.Value)
	}
	if patch.ForecastEnd.Defined {
		merged.ForecastEnd = copyTime(patch.ForecastEnd.Value)
	}
	if patch.ActualStart.Defined {
		merged.ActualStart = copyTime(patch.ActualStart.Value)
	}
	if patch.ActualEnd.Defined {
		merged.ActualEnd = copyTime(patch.ActualEnd.Value)
	}
	if patch.PlanCost.Defined {
		merged.PlanCost = copyFloat(patch.PlanCost.Value)
	}
	if patch.ForecastCost.Defined {
		merged.ForecastCost = copyFloat(patch.ForecastCost.Value)
	}
	if patch.ActualCost.Defined {
		merged.ActualCost = copyFloat(patch.ActualCost.Value)
	}
	if patch.Currency != nil {
		merged.Currency = *patch.Currency
	}
	return merged
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := *t
	return &value
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	value := *f
	return &value
}
