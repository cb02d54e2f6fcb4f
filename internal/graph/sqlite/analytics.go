package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artello/eventflow/internal/domain"
	"github.com/artello/eventflow/internal/graph"
	"github.com/artello/eventflow/internal/graph/queryspec"
)

var _ graph.QueryEngine = (*Store)(nil)

// GetEventFlow walks the chain from the session's head through the next
// pointers and materializes the full ordered sequence. The returned order is
// timestamp order; each element names its successor in that order.
func (s *Store) GetEventFlow(ctx context.Context, sessionID string) (*graph.SessionFlow, error) {
	const q = `
	WITH RECURSIVE chain(event_id, event_type, action, payload, timestamp, next_event_id) AS (
		SELECT e.event_id, e.event_type, e.action, e.payload, e.timestamp, e.next_event_id
		FROM sessions s JOIN events e ON e.event_id = s.head_event_id
		WHERE s.session_id = ?
		UNION ALL
		SELECT n.event_id, n.event_type, n.action, n.payload, n.timestamp, n.next_event_id
		FROM chain c JOIN events n ON n.event_id = c.next_event_id
	)
	SELECT event_id, event_type, action, payload, timestamp FROM chain
	ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, domain.Unavailable("get_event_flow", sessionID, err)
	}
	defer rows.Close()

	var events []graph.FlowEvent
	for rows.Next() {
		ev, err := scanFlowEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("get_event_flow", sessionID, err)
	}
	if len(events) == 0 {
		return nil, domain.NotFoundf("no events found for session %s", sessionID)
	}

	// Successor annotation follows the returned order, not the link order.
	for i := range events[:len(events)-1] {
		events[i].NextEventID = events[i+1].EventID
	}

	return &graph.SessionFlow{SessionID: sessionID, Events: events}, nil
}

// GetLatestEvent follows the session's tail pointer.
func (s *Store) GetLatestEvent(ctx context.Context, sessionID string) (*graph.FlowEvent, error) {
	const q = `
	SELECT e.event_id, e.event_type, e.action, e.payload, e.timestamp
	FROM sessions s JOIN events e ON e.event_id = s.last_event_id
	WHERE s.session_id = ?`

	row := s.db.QueryRowContext(ctx, q, sessionID)
	ev, err := scanFlowEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("no latest event for session %s", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetEventCounts groups the session's events by type.
func (s *Store) GetEventCounts(ctx context.Context, sessionID string) ([]graph.TypeCount, error) {
	const q = `
	SELECT event_type, COUNT(*) FROM events
	WHERE session_id = ?
	GROUP BY event_type
	ORDER BY COUNT(*) DESC, event_type ASC`

	counts, err := s.queryTypeCounts(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, domain.NotFoundf("no events found for session %s", sessionID)
	}
	return counts, nil
}

// GetConversionFunnel counts the session's events per step. The output
// preserves the caller's step order and zero-fills missing steps; a user may
// hit steps out of order and is still counted at each.
func (s *Store) GetConversionFunnel(ctx context.Context, sessionID string, steps []string) ([]graph.FunnelStep, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: funnel requires at least one step", domain.ErrValidation)
	}

	q := fmt.Sprintf(`
	SELECT event_type, COUNT(*) FROM events
	WHERE session_id = ? AND event_type IN (%s)
	GROUP BY event_type`, placeholders(len(steps)))

	args := append([]any{sessionID}, asAnySlice(steps)...)
	counts, err := s.queryTypeCounts(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, domain.NotFoundf("no funnel data for session %s", sessionID)
	}
	return zeroFill(steps, counts), nil
}

// GetRetentionRate counts distinct sessions with at least one event inside
// the trailing window of the given number of days.
func (s *Store) GetRetentionRate(ctx context.Context, days int) (int64, error) {
	cutoff := formatTime(time.Now().AddDate(0, 0, -days))

	var active int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT session_id) FROM events WHERE timestamp >= ?`, cutoff).Scan(&active)
	if err != nil {
		return 0, domain.Unavailable("get_retention_rate", "", err)
	}
	return active, nil
}

// GetSessionHeatmap buckets all events by hour of day.
func (s *Store) GetSessionHeatmap(ctx context.Context) (graph.Heatmap, error) {
	var hm graph.Heatmap

	rows, err := s.db.QueryContext(ctx,
		`SELECT CAST(strftime('%H', timestamp) AS INTEGER) AS hour, COUNT(*)
		 FROM events GROUP BY hour ORDER BY hour`)
	if err != nil {
		return hm, domain.Unavailable("get_session_heatmap", "", err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var hour int
		var count int64
		if err := rows.Scan(&hour, &count); err != nil {
			return hm, domain.Unavailable("get_session_heatmap", "", err)
		}
		if hour >= 0 && hour < 24 {
			hm[hour] = count
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return hm, domain.Unavailable("get_session_heatmap", "", err)
	}
	if !found {
		return hm, domain.NotFoundf("no heatmap data")
	}
	return hm, nil
}

// GetGlobalEventCounts aggregates type frequencies across all sessions.
func (s *Store) GetGlobalEventCounts(ctx context.Context) ([]graph.TypeCount, error) {
	counts, err := s.queryTypeCounts(ctx,
		`SELECT event_type, COUNT(*) FROM events GROUP BY event_type ORDER BY COUNT(*) DESC, event_type ASC`)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, domain.NotFoundf("no global event data")
	}
	return counts, nil
}

// GetTopEvents returns the most frequent event types, count descending, ties
// broken arbitrarily.
func (s *Store) GetTopEvents(ctx context.Context, limit int) ([]graph.TypeCount, error) {
	if limit <= 0 {
		limit = 5
	}
	counts, err := s.queryTypeCounts(ctx,
		`SELECT event_type, COUNT(*) AS count FROM events GROUP BY event_type ORDER BY count DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, domain.NotFoundf("no event data")
	}
	return counts, nil
}

// GetGlobalFunnel counts distinct sessions reaching each step across all
// sessions, optionally restricted to an inclusive timestamp window. The
// window applies only when both bounds are supplied.
func (s *Store) GetGlobalFunnel(ctx context.Context, steps []string, start, end *time.Time) ([]graph.FunnelStep, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: funnel requires at least one step", domain.ErrValidation)
	}

	q := fmt.Sprintf(`
	SELECT event_type, COUNT(DISTINCT session_id) FROM events
	WHERE event_type IN (%s)`, placeholders(len(steps)))
	args := asAnySlice(steps)

	if start != nil && end != nil {
		q += ` AND timestamp >= ? AND timestamp <= ?`
		args = append(args, formatTime(*start), formatTime(*end))
	}
	q += ` GROUP BY event_type`

	counts, err := s.queryTypeCounts(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, domain.NotFoundf("no funnel data")
	}
	return zeroFill(steps, counts), nil
}

// GetSegmentedUsers returns users with at least minEvents occurrences across
// the given event types, via the user-event association.
func (s *Store) GetSegmentedUsers(ctx context.Context, eventTypes []string, minEvents int) ([]graph.UserCount, error) {
	if len(eventTypes) == 0 {
		return nil, fmt.Errorf("%w: segmentation requires at least one event type", domain.ErrValidation)
	}
	if minEvents < 1 {
		minEvents = 1
	}

	q := fmt.Sprintf(`
	SELECT user_id, COUNT(*) AS event_count FROM events
	WHERE user_id IS NOT NULL AND event_type IN (%s)
	GROUP BY user_id
	HAVING event_count >= ?
	ORDER BY event_count DESC, user_id ASC`, placeholders(len(eventTypes)))

	args := append(asAnySlice(eventTypes), minEvents)
	users, err := s.queryUserCounts(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, domain.NotFoundf("no users found for this segment")
	}
	return users, nil
}

// ExecuteCustomQuery composes the conditions through the queryspec builder
// and returns per-user matching event counts. Caller input only ever reaches
// the database as bind arguments.
func (s *Store) ExecuteCustomQuery(ctx context.Context, conditions []queryspec.Condition) ([]graph.UserCount, error) {
	clause, args, err := queryspec.Build(conditions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	q := `SELECT u.user_id, COUNT(e.event_id) AS event_count
	FROM users u JOIN events e ON e.user_id = u.user_id`
	if clause != "" {
		q += " WHERE " + clause
	}
	q += " GROUP BY u.user_id ORDER BY event_count DESC, u.user_id ASC"

	users, err := s.queryUserCounts(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, domain.NotFoundf("no matching users found")
	}
	return users, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFlowEvent(sc scanner) (graph.FlowEvent, error) {
	var (
		ev         graph.FlowEvent
		action     sql.NullString
		payloadRaw string
		ts         string
	)
	if err := sc.Scan(&ev.EventID, &ev.EventType, &action, &payloadRaw, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ev, err
		}
		return ev, domain.Unavailable("scan_event", "", err)
	}
	if action.Valid {
		ev.Action = action.String
	}
	if err := json.Unmarshal([]byte(payloadRaw), &ev.Payload); err != nil {
		return ev, domain.Unavailable("scan_event", "", fmt.Errorf("payload decode: %w", err))
	}
	t, err := parseTime(ts)
	if err != nil {
		return ev, domain.Unavailable("scan_event", "", fmt.Errorf("timestamp decode: %w", err))
	}
	ev.Timestamp = t
	return ev, nil
}

func (s *Store) queryTypeCounts(ctx context.Context, q string, args ...any) ([]graph.TypeCount, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.Unavailable("query_counts", "", err)
	}
	defer rows.Close()

	var counts []graph.TypeCount
	for rows.Next() {
		var tc graph.TypeCount
		if err := rows.Scan(&tc.EventType, &tc.Count); err != nil {
			return nil, domain.Unavailable("query_counts", "", err)
		}
		counts = append(counts, tc)
	}
	return counts, rows.Err()
}

func (s *Store) queryUserCounts(ctx context.Context, q string, args ...any) ([]graph.UserCount, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.Unavailable("query_users", "", err)
	}
	defer rows.Close()

	var users []graph.UserCount
	for rows.Next() {
		var uc graph.UserCount
		if err := rows.Scan(&uc.UserID, &uc.EventCount); err != nil {
			return nil, domain.Unavailable("query_users", "", err)
		}
		users = append(users, uc)
	}
	return users, rows.Err()
}

// placeholders returns n comma-joined bind markers. Only the marker count is
// dynamic; values always arrive through args.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func asAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func zeroFill(steps []string, counts []graph.TypeCount) []graph.FunnelStep {
	byType := make(map[string]int64, len(counts))
	for _, c := range counts {
		byType[c.EventType] = c.Count
	}
	out := make([]graph.FunnelStep, len(steps))
	for i, step := range steps {
		out[i] = graph.FunnelStep{Step: step, Count: byType[step]}
	}
	return out
}
