package store

import (
	"time"

	"github.com/google/uuid"
)

// ServiceStatus is the lifecycle state of an organization's service contract.
type ServiceStatus string

const (
	// ServiceStatusActive means the organization is in active service.
	ServiceStatusActive ServiceStatus = "ACTIVE"
	// ServiceStatusSuspended means service is temporarily suspended.
	ServiceStatusSuspended ServiceStatus = "SUSPENDED"
	// ServiceStatusArchived means the organization has been retired.
	ServiceStatusArchived ServiceStatus = "ARCHIVED"
)

// Organization is a tenant of the system. Code identifies the organization
// in the external EAM system.
type Organization struct {
	ID            uuid.UUID
	Code          string
	Name          string
	ServiceStatus ServiceStatus
	EnableSync    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SourceConnection tracks per-organization sync statistics. A row exists only
// after the organization's first successful sync. FirstSyncAt is write-once;
// TotalSyncRecordCount accumulates across runs.
type SourceConnection struct {
	ID                   uuid.UUID
	OrgID                uuid.UUID
	FirstSyncAt          *time.Time
	LastSyncAt           *time.Time
	LastSyncRecordCount  int64
	TotalSyncRecordCount int64
	UpdatedAt            time.Time
}

// MirrorRecord is the locally persisted copy of one external equipment
// record. Cost and schedule fields are nullable because the external system
// populates them progressively over an asset's lifecycle.
type MirrorRecord struct {
	ID             uuid.UUID
	OrgID          uuid.UUID
	ExternalID     string
	Description    string
	Category       string
	PlanStart      *time.Time
	PlanEnd        *time.Time
	ForecastStart  *time.Time
	ForecastEnd    *time.Time
	ActualStart    *time.Time
	ActualEnd      *time.Time
	PlanCost       *float64
	ForecastCost   *float64
	ActualCost     *float64
	Currency       string
	OwnerSubjectID string
	LastSyncedAt   time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
