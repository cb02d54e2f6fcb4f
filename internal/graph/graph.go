// Package graph defines the session chain store and analytics query
// contracts. A session's events form a singly-linked chain in arrival order;
// the store keeps a head pointer (set once) and a tail pointer (repointed on
// every link) per session.
package graph

import (
	"context"
	"time"

	"github.com/artello/eventflow/internal/domain"
	"github.com/artello/eventflow/internal/graph/queryspec"
)

// LinkResult reports what a LinkEvent invocation did.
type LinkResult struct {
	// SessionCreated is true when this link lazily created the session.
	SessionCreated bool

	// Duplicate is true when the event_id was already linked and the call
	// was absorbed as a no-op. Queue redelivery makes this a normal case.
	Duplicate bool
}

// User is the external user relation used by segmentation queries. It is
// maintained alongside the chain, never by the chain itself.
type User struct {
	UserID     string
	Country    string
	DeviceType string
}

// ChainStore is the write side of the session graph.
type ChainStore interface {
	// LinkEvent appends ev to its session's chain as one atomic unit:
	// get-or-create session, create the event node, attach it as head or
	// to the old tail, repoint the tail. Concurrent calls on the same
	// session are serialized by the store.
	LinkEvent(ctx context.Context, ev *domain.Event) (LinkResult, error)

	// UpsertUser records or refreshes a user's segmentation attributes.
	UpsertUser(ctx context.Context, u User) error

	Close() error
}

// FlowEvent is one element of a session's materialized event sequence.
// NextEventID names the successor in the returned (timestamp) order, not the
// stored link order; it is empty for the final element.
type FlowEvent struct {
	EventID     string         `json:"event_id"`
	EventType   string         `json:"event_type"`
	Action      string         `json:"action,omitempty"`
	Payload     domain.Payload `json:"payload"`
	Timestamp   time.Time      `json:"timestamp"`
	NextEventID string         `json:"next_event,omitempty"`
}

// SessionFlow is the full ordered event sequence of one session.
type SessionFlow struct {
	SessionID string      `json:"session_id"`
	Events    []FlowEvent `json:"events"`
}

// TypeCount is an event-type frequency.
type TypeCount struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

// FunnelStep is one step of a funnel result; steps preserve the caller's
// order and missing steps are zero-filled.
type FunnelStep struct {
	Step  string `json:"step"`
	Count int64  `json:"count"`
}

// Heatmap holds global event counts bucketed by hour of day.
type Heatmap [24]int64

// UserCount pairs a user with the number of matching events.
type UserCount struct {
	UserID     string `json:"user_id"`
	EventCount int64  `json:"event_count"`
}

// QueryEngine is the read side: independent, side-effect-free traversals and
// aggregations over the chain store. Reads are eventually consistent with
// in-flight writes; callers must tolerate observing a chain mid-extension.
// Operations that match nothing return domain.ErrNotFound.
type QueryEngine interface {
	GetEventFlow(ctx context.Context, sessionID string) (*SessionFlow, error)
	GetLatestEvent(ctx context.Context, sessionID string) (*FlowEvent, error)
	GetEventCounts(ctx context.Context, sessionID string) ([]TypeCount, error)
	GetConversionFunnel(ctx context.Context, sessionID string, steps []string) ([]FunnelStep, error)
	GetRetentionRate(ctx context.Context, days int) (int64, error)
	GetSessionHeatmap(ctx context.Context) (Heatmap, error)
	GetGlobalEventCounts(ctx context.Context) ([]TypeCount, error)
	GetTopEvents(ctx context.Context, limit int) ([]TypeCount, error)
	GetGlobalFunnel(ctx context.Context, steps []string, start, end *time.Time) ([]FunnelStep, error)
	GetSegmentedUsers(ctx context.Context, eventTypes []string, minEvents int) ([]UserCount, error)
	ExecuteCustomQuery(ctx context.Context, conditions []queryspec.Condition) ([]UserCount, error)
}
