package writer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/planvista/pfa-server/internal/source"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	owner := source.Subject{ID: "u-1", Active: true}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	negative := -10.0
	cost := 250.0

	tests := []struct {
		name   string
		record source.Record
		want   string
	}{
		{
			name:   "valid record",
			record: source.Record{ExternalID: "A-1", Owner: owner, PlanCost: &cost},
			want:   "",
		},
		{
			name:   "missing external id",
			record: source.Record{Owner: owner},
			want:   "missing external id",
		},
		{
			name:   "missing owner",
			record: source.Record{ExternalID: "A-1"},
			want:   "missing owner subject",
		},
		{
			name:   "negative forecast cost",
			record: source.Record{ExternalID: "A-1", Owner: owner, ForecastCost: &negative},
			want:   "negative forecastCost",
		},
		{
			name:   "plan period inverted",
			record: source.Record{ExternalID: "A-1", Owner: owner, PlanStart: &start, PlanEnd: &end},
			want:   "plan period ends before it starts",
		},
		{
			name:   "open-ended period is fine",
			record: source.Record{ExternalID: "A-1", Owner: owner, ActualStart: &start},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, validate(&tt.record))
		})
	}
}
