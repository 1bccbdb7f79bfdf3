// Package eligibility decides which organizations may sync and which subject
// records survive the sync filters.
//
// Organization checks short-circuit an entire run before any external call.
// Subject checks are pure predicates evaluated in a fixed order with no
// short-circuit, so the skip-reason histogram is reproducible run over run.
package eligibility

import (
	"fmt"
	"strings"

	"github.com/planvista/pfa-server/internal/config"
	"github.com/planvista/pfa-server/internal/source"
	"github.com/planvista/pfa-server/internal/store"
)

// SkipReason is a stable code describing why an organization or subject was
// excluded from a sync run.
type SkipReason string

const (
	// SkipOrgInactive means the organization's service status is not active.
	SkipOrgInactive SkipReason = "ORG_INACTIVE"
	// SkipSyncDisabled means the organization has synchronization turned off.
	SkipSyncDisabled SkipReason = "SYNC_DISABLED"
	// SkipInactiveSubject means the record's owner is not an active subject.
	SkipInactiveSubject SkipReason = "INACTIVE_SUBJECT"
	// SkipGroupNotAllowed means the owner's group is outside the allow-list.
	SkipGroupNotAllowed SkipReason = "GROUP_NOT_ALLOWED"
	// SkipAttributeGateFailed means the gate attribute is absent or not truthy.
	SkipAttributeGateFailed SkipReason = "ATTRIBUTE_GATE_FAILED"
	// SkipNoMatchingOrganization means the owner belongs to none of the
	// required organizations.
	SkipNoMatchingOrganization SkipReason = "NO_MATCHING_ORGANIZATION"
)

// Result is the outcome of evaluating one subject against all tiers.
// Failed lists every failing tier in evaluation order; Primary is the first.
type Result struct {
	Eligible bool
	Primary  SkipReason
	Detail   string
	Failed   []SkipReason
}

// Filter evaluates sync eligibility.
type Filter interface {
	// CheckOrganization gates a whole run. A non-nil reason means the run
	// must terminate without fetching anything from the source.
	CheckOrganization(org *store.Organization) *SkipReason

	// EvaluateSubject runs every subject tier and reports all failures.
	EvaluateSubject(subject *source.Subject) Result
}

// tier is one subject predicate. A nil filter configuration section disables
// nothing; each predicate interprets its own empty-config semantics.
type tier struct {
	reason SkipReason
	check  func(*source.Subject) (bool, string)
}

// DefaultFilter implements Filter from static configuration.
type DefaultFilter struct {
	tiers []tier
}

// NewFilter builds a filter from the eligibility configuration section.
func NewFilter(cfg *config.EligibilityConfig) *DefaultFilter {
	allowedGroups := toSet(cfg.AllowedGroups)
	acceptedValues := toLowerSet(cfg.GateAcceptedValues)
	requiredOrgs := toSet(cfg.RequiredOrganizations)
	gateAttribute := cfg.GateAttribute

	return &DefaultFilter{
		tiers: []tier{
			{
				reason: SkipInactiveSubject,
				check: func(s *source.Subject) (bool, string) {
					if !s.Active {
						return false, fmt.Sprintf("subject %s is inactive", s.ID)
					}
					return true, ""
				},
			},
			{
				reason: SkipGroupNotAllowed,
				check: func(s *source.Subject) (bool, string) {
					// An empty allow-list permits every group.
					if len(allowedGroups) == 0 {
						return true, ""
					}
					if _, ok := allowedGroups[s.Group]; !ok {
						return false, fmt.Sprintf("group %q is not in the allow-list", s.Group)
					}
					return true, ""
				},
			},
			{
				reason: SkipAttributeGateFailed,
				check: func(s *source.Subject) (bool, string) {
					if gateAttribute == "" {
						return true, ""
					}
					value, ok := s.Attributes[gateAttribute]
					if !ok {
						return false, fmt.Sprintf("attribute %q is not set", gateAttribute)
					}
					if _, accepted := acceptedValues[strings.ToLower(strings.TrimSpace(value))]; !accepted {
						return false, fmt.Sprintf("attribute %q has non-accepted value %q", gateAttribute, value)
					}
					return true, ""
				},
			},
			{
				reason: SkipNoMatchingOrganization,
				check: func(s *source.Subject) (bool, string) {
					if len(requiredOrgs) == 0 {
						return true, ""
					}
					for _, org := range s.Organizations {
						if _, ok := requiredOrgs[org]; ok {
							return true, ""
						}
					}
					return false, "subject belongs to none of the required organizations"
				},
			},
		},
	}
}

// CheckOrganization implements Filter.
func (*DefaultFilter) CheckOrganization(org *store.Organization) *SkipReason {
	if org.ServiceStatus != store.ServiceStatusActive {
		reason := SkipOrgInactive
		return &reason
	}
	if !org.EnableSync {
		reason := SkipSyncDisabled
		return &reason
	}
	return nil
}

// EvaluateSubject implements Filter. Every tier runs regardless of earlier
// failures so the histogram counts each violated filter.
func (f *DefaultFilter) EvaluateSubject(subject *source.Subject) Result {
	result := Result{Eligible: true}
	for _, t := range f.tiers {
		ok, detail := t.check(subject)
		if ok {
			continue
		}
		if result.Eligible {
			result.Eligible = false
			result.Primary = t.reason
			result.Detail = detail
		}
		result.Failed = append(result.Failed, t.reason)
	}
	return result
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func toLowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}
