// Package service assembles the merged read view of mirror and draft data.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planvista/pfa-server/internal/draft"
	"github.com/planvista/pfa-server/internal/merge"
	"github.com/planvista/pfa-server/internal/store"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// ErrInvalidCursor is returned for cursors the server did not issue.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

// RecordView is one merged record as returned to clients. Draft changes are
// already applied; HasDraft tells the client the record differs from the
// mirror.
type RecordView struct {
	RecordID       uuid.UUID  `json:"recordId"`
	ExternalID     string     `json:"externalId"`
	Description    string     `json:"description"`
	Category       string     `json:"category"`
	PlanStart      *time.Time `json:"planStart,omitempty"`
	PlanEnd        *time.Time `json:"planEnd,omitempty"`
	ForecastStart  *time.Time `json:"forecastStart,omitempty"`
	ForecastEnd    *time.Time `json:"forecastEnd,omitempty"`
	ActualStart    *time.Time `json:"actualStart,omitempty"`
	ActualEnd      *time.Time `json:"actualEnd,omitempty"`
	PlanCost       *float64   `json:"planCost,omitempty"`
	ForecastCost   *float64   `json:"forecastCost,omitempty"`
	ActualCost     *float64   `json:"actualCost,omitempty"`
	Currency       string     `json:"currency"`
	OwnerSubjectID string     `json:"ownerSubjectId"`
	LastSyncedAt   time.Time  `json:"lastSyncedAt"`
	HasDraft       bool       `json:"hasDraft"`
	DraftSessionID string     `json:"draftSessionId,omitempty"`
}

// PageResult is one page of merged records.
type PageResult struct {
	Records    []RecordView `json:"records"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// MirrorReader is the store subset the read path needs.
type MirrorReader interface {
	ListMirrorRecords(ctx context.Context, orgID uuid.UUID, afterExternalID string, limit int32) ([]store.MirrorRecord, error)
	GetMirrorRecordByID(ctx context.Context, orgID, id uuid.UUID) (*store.MirrorRecord, error)
}

// PFAService serves merged plan/forecast/actual views.
type PFAService struct {
	mirror MirrorReader
	drafts draft.Manager
}

// NewPFAService creates a PFAService.
func NewPFAService(mirror MirrorReader, drafts draft.Manager) *PFAService {
	return &PFAService{mirror: mirror, drafts: drafts}
}

// ListRecords returns one page of merged records ordered by external ID.
// The cursor is opaque to clients; an empty cursor starts from the beginning.
func (s *PFAService) ListRecords(ctx context.Context, orgID uuid.UUID, cursor string, limit int32) (*PageResult, error) {
	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	// Fetch one extra row to know whether another page exists.
	records, err := s.mirror.ListMirrorRecords(ctx, orgID, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	hasMore := false
	if int32(len(records)) > limit {
		records = records[:limit]
		hasMore = true
	}

	overlays, err := s.draftsByRecord(ctx, orgID)
	if err != nil {
		return nil, err
	}

	result := &PageResult{Records: make([]RecordView, 0, len(records))}
	for i := range records {
		result.Records = append(result.Records, mergedView(&records[i], overlays[records[i].ID]))
	}
	if hasMore {
		result.NextCursor = encodeCursor(records[len(records)-1].ExternalID)
	}
	return result, nil
}

// GetRecord returns one merged record by its row ID.
func (s *PFAService) GetRecord(ctx context.Context, orgID, recordID uuid.UUID) (*RecordView, error) {
	record, err := s.mirror.GetMirrorRecordByID(ctx, orgID, recordID)
	if err != nil {
		return nil, err
	}

	overlays, err := s.draftsByRecord(ctx, orgID)
	if err != nil {
		return nil, err
	}

	view := mergedView(record, overlays[record.ID])
	return &view, nil
}

func (s *PFAService) draftsByRecord(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]*draft.Delta, error) {
	deltas, err := s.drafts.ListDrafts(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	byRecord := make(map[uuid.UUID]*draft.Delta, len(deltas))
	for i := range deltas {
		byRecord[deltas[i].RecordID] = &deltas[i]
	}
	return byRecord, nil
}

func mergedView(record *store.MirrorRecord, delta *draft.Delta) RecordView {
	merged := *record
	view := RecordView{}
	if delta != nil {
		merged = merge.Apply(record, &delta.Patch)
		view.HasDraft = true
		view.DraftSessionID = delta.SessionID
	}

	view.RecordID = merged.ID
	view.ExternalID = merged.ExternalID
	view.Description = merged.Description
	view.Category = merged.Category
	view.PlanStart = merged.PlanStart
	view.PlanEnd = merged.PlanEnd
	view.ForecastStart = merged.ForecastStart
	view.ForecastEnd = merged.ForecastEnd
	view.ActualStart = merged.ActualStart
	view.ActualEnd = merged.ActualEnd
	view.PlanCost = merged.PlanCost
	view.ForecastCost = merged.ForecastCost
	view.ActualCost = merged.ActualCost
	view.Currency = merged.Currency
	view.OwnerSubjectID = merged.OwnerSubjectID
	view.LastSyncedAt = merged.LastSyncedAt
	return view
}

func encodeCursor(externalID string) string {
	return base64.URLEncoding.EncodeToString([]byte(externalID))
}

func decodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	decoded, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", ErrInvalidCursor
	}
	return string(decoded), nil
}
