// Package source implements the client for the external EAM API.
//
// The EAM system exposes equipment-cost lines per organization as a paginated
// feed. The client is stateless beyond the offset cursor a caller passes in,
// so a partial run can be resumed by persisting the last cursor.
package source

import "time"

// Subject is the snapshot of a record owner as supplied by the EAM feed.
// It is evaluated by the eligibility filter and never persisted.
type Subject struct {
	ID            string            `json:"id"`
	Active        bool              `json:"active"`
	Group         string            `json:"group"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Organizations []string          `json:"organizations,omitempty"`
}

// Record is one equipment-cost line as returned by the EAM assets feed.
// Cost and date fields are carried as opaque typed values; no unit
// conversion or rounding happens below the business layer.
type Record struct {
	ExternalID  string `json:"id"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`

	PlanStart     *time.Time `json:"planStart,omitempty"`
	PlanEnd       *time.Time `json:"planEnd,omitempty"`
	ForecastStart *time.Time `json:"forecastStart,omitempty"`
	ForecastEnd   *time.Time `json:"forecastEnd,omitempty"`
	ActualStart   *time.Time `json:"actualStart,omitempty"`
	ActualEnd     *time.Time `json:"actualEnd,omitempty"`

	PlanCost     *float64 `json:"planCost,omitempty"`
	ForecastCost *float64 `json:"forecastCost,omitempty"`
	ActualCost   *float64 `json:"actualCost,omitempty"`
	Currency     string   `json:"currency,omitempty"`

	Owner Subject `json:"owner"`
}

// PageQuery describes one page fetch against the assets feed
type PageQuery struct {
	// OrgCode is the EAM organization code the feed is scoped to
	OrgCode string

	// Offset is the zero-based record offset of the page
	Offset int

	// UpdatedSince, when set, restricts the feed to records modified after
	// the given instant (incremental mode)
	UpdatedSince *time.Time
}

// Page is the result of one page fetch
type Page struct {
	Records []Record `json:"records"`

	// Total is the total record count the source reports for the query
	Total int64 `json:"total"`

	// NextOffset is the cursor for the next page, nil when the feed is exhausted
	NextOffset *int `json:"nextOffset"`
}

// InfoResponse is the EAM endpoint metadata returned by /api/v1/info
type InfoResponse struct {
	Name       string `json:"name"`
	APIVersion string `json:"apiVersion"`
}
