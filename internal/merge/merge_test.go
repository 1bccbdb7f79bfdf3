package merge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planvista/pfa-server/internal/store"
)

func baseMirror() store.MirrorRecord {
	planStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	forecastEnd := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	planCost := 1200.0
	return store.MirrorRecord{
		ExternalID:  "A-001",
		Description: "Pump overhaul",
		Category:    "rotating",
		PlanStart:   &planStart,
		ForecastEnd: &forecastEnd,
		PlanCost:    &planCost,
		Currency:    "USD",
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	t.Run("nil patch returns the mirror unchanged", func(t *testing.T) {
		t.Parallel()
		mirror := baseMirror()
		merged := Apply(&mirror, nil)
		assert.Equal(t, mirror, merged)
	})

	t.Run("defined fields win, undefined fields keep mirror values", func(t *testing.T) {
		t.Parallel()
		mirror := baseMirror()
		newEnd := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
		patch := &FieldPatch{
			ForecastEnd:  Set(newEnd),
			ForecastCost: Set(1500.0),
		}

		merged := Apply(&mirror, patch)

		assert.Equal(t, newEnd, *merged.ForecastEnd)
		assert.Equal(t, 1500.0, *merged.ForecastCost)
		// Untouched fields come from the mirror.
		assert.Equal(t, mirror.Description, merged.Description)
		assert.Equal(t, mirror.PlanStart, merged.PlanStart)
		assert.Equal(t, mirror.PlanCost, merged.PlanCost)
		assert.Equal(t, mirror.Currency, merged.Currency)
	})

	t.Run("explicit null clears a nullable field", func(t *testing.T) {
		t.Parallel()
		mirror := baseMirror()
		patch := &FieldPatch{PlanCost: Null[float64]()}

		merged := Apply(&mirror, patch)

		assert.Nil(t, merged.PlanCost)
		assert.NotNil(t, mirror.PlanCost)
	})

	t.Run("inputs are not mutated", func(t *testing.T) {
		t.Parallel()
		mirror := baseMirror()
		original := baseMirror()
		description := "changed"
		patch := &FieldPatch{Description: &description}

		merged := Apply(&mirror, patch)
		merged.Description = "changed again"

		assert.Equal(t, original, mirror)
	})
}

func TestFieldPatchIsEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, (&FieldPatch{}).IsEmpty())

	currency := "EUR"
	assert.False(t, (&FieldPatch{Currency: &currency}).IsEmpty())
	assert.False(t, (&FieldPatch{PlanCost: Null[float64]()}).IsEmpty())
}

func TestFieldPatchJSONRoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("explicit null survives encode and decode", func(t *testing.T) {
		t.Parallel()
		patch := FieldPatch{ForecastEnd: Null[time.Time]()}

		data, err := json.Marshal(&patch)
		require.NoError(t, err)
		assert.JSONEq(t, `{"forecastEnd": null}`, string(data))

		var decoded FieldPatch
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.False(t, decoded.IsEmpty())
		assert.True(t, decoded.ForecastEnd.Defined)
		assert.Nil(t, decoded.ForecastEnd.Value)

		mirror := baseMirror()
		merged := Apply(&mirror, &decoded)
		assert.Nil(t, merged.ForecastEnd)
	})

	t.Run("undefined fields stay undefined", func(t *testing.T) {
		t.Parallel()
		newCost := 900.0
		patch := FieldPatch{PlanCost: Set(newCost)}

		data, err := json.Marshal(&patch)
		require.NoError(t, err)
		assert.JSONEq(t, `{"planCost": 900}`, string(data))

		var decoded FieldPatch
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.True(t, decoded.PlanCost.Defined)
		require.NotNil(t, decoded.PlanCost.Value)
		assert.Equal(t, newCost, *decoded.PlanCost.Value)
		assert.False(t, decoded.ForecastEnd.Defined)

		mirror := baseMirror()
		merged := Apply(&mirror, &decoded)
		assert.Equal(t, newCost, *merged.PlanCost)
		assert.Equal(t, mirror.ForecastEnd, merged.ForecastEnd)
	})

	t.Run("values round-trip through a set field", func(t *testing.T) {
		t.Parallel()
		newEnd := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
		patch := FieldPatch{ForecastEnd: Set(newEnd)}

		data, err := json.Marshal(&patch)
		require.NoError(t, err)

		var decoded FieldPatch
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.NotNil(t, decoded.ForecastEnd.Value)
		assert.True(t, newEnd.Equal(*decoded.ForecastEnd.Value))
	})
}
