// Package queryspec builds the WHERE clause for the dynamic segmentation
// query. Every predicate is emitted from a fixed template keyed by filter
// field; caller-supplied values only ever become bind arguments. No caller
// text is ever concatenated into SQL.
package queryspec

import (
	"fmt"
	"strings"
	"time"
)

// Combinator joins the predicates of one condition.
type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
)

// EventFilter holds event-level predicates. Zero values mean "not set".
type EventFilter struct {
	EventType      string     `json:"event_type,omitempty"`
	MinOccurrences int        `json:"min_occurrences,omitempty"`
	MaxOccurrences int        `json:"max_occurrences,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
}

// UserFilter holds user-level predicates. Zero values mean "not set".
type UserFilter struct {
	Country     string `json:"country,omitempty"`
	DeviceType  string `json:"device_type,omitempty"`
	MinSessions int    `json:"min_sessions,omitempty"`
	MaxSessions int    `json:"max_sessions,omitempty"`
}

// Condition is one group of predicates with its own combinator.
type Condition struct {
	Operator     Combinator    `json:"operator"`
	EventFilters []EventFilter `json:"event_filters,omitempty"`
	UserFilters  []UserFilter  `json:"user_filters,omitempty"`
}

// Fixed predicate templates. `u` is the users relation, `e` the events
// relation joined on user_id. The occurrence and session-count predicates
// count per user across all their events, matching the graph SIZE() patterns
// they replace.
const (
	tmplEventType  = "e.event_type = ?"
	tmplMinOccurs  = "(SELECT COUNT(*) FROM events eo WHERE eo.user_id = u.user_id) >= ?"
	tmplMaxOccurs  = "(SELECT COUNT(*) FROM events eo WHERE eo.user_id = u.user_id) <= ?"
	tmplDateRange  = "(e.timestamp >= ? AND e.timestamp <= ?)"
	tmplCountry    = "u.country = ?"
	tmplDeviceType = "u.device_type = ?"
	tmplMinSess    = "(SELECT COUNT(DISTINCT es.session_id) FROM events es WHERE es.user_id = u.user_id) >= ?"
	tmplMaxSess    = "(SELECT COUNT(DISTINCT es.session_id) FROM events es WHERE es.user_id = u.user_id) <= ?"
)

// TimeLayout is the fixed-width textual timestamp form used by the store;
// lexicographic order equals chronological order.
const TimeLayout = "2006-01-02 15:04:05.000"

// Build composes the filter fragments of all conditions into a single WHERE
// body plus its bind arguments. An empty clause means no filtering.
//
// All fragments are joined with the LAST condition's combinator. That mirrors
// the long-standing behavior of the query API this replaces; per-condition
// grouping is deliberately not applied here. See DESIGN.md before changing.
func Build(conditions []Condition) (clause string, args []any, err error) {
	var fragments []string
	combinator := And

	for i, cond := range conditions {
		switch cond.Operator {
		case And, Or:
			combinator = cond.Operator
		case "":
			combinator = And
		default:
			return "", nil, fmt.Errorf("condition %d: unknown combinator %q", i, cond.Operator)
		}

		for _, f := range cond.EventFilters {
			if f.EventType != "" {
				fragments = append(fragments, tmplEventType)
				args = append(args, f.EventType)
			}
			if f.MinOccurrences > 0 {
				fragments = append(fragments, tmplMinOccurs)
				args = append(args, f.MinOccurrences)
			}
			if f.MaxOccurrences > 0 {
				fragments = append(fragments, tmplMaxOccurs)
				args = append(args, f.MaxOccurrences)
			}
			if f.StartDate != nil && f.EndDate != nil {
				fragments = append(fragments, tmplDateRange)
				args = append(args, f.StartDate.UTC().Format(TimeLayout), f.EndDate.UTC().Format(TimeLayout))
			}
		}

		for _, f := range cond.UserFilters {
			if f.Country != "" {
				fragments = append(fragments, tmplCountry)
				args = append(args, f.Country)
			}
			if f.DeviceType != "" {
				fragments = append(fragments, tmplDeviceType)
				args = append(args, f.DeviceType)
			}
			if f.MinSessions > 0 {
				fragments = append(fragments, tmplMinSess)
				args = append(args, f.MinSessions)
			}
			if f.MaxSessions > 0 {
				fragments = append(fragments, tmplMaxSess)
				args = append(args, f.MaxSessions)
			}
		}
	}

	if len(fragments) == 0 {
		return "", nil, nil
	}
	return strings.Join(fragments, " "+string(combinator)+" "), args, nil
}
