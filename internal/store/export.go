package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// ExportedEvent is one log entry with its payload decoded.
type ExportedEvent struct {
	EventID   int64  `json:"event_id"`
	SeqNo     int    `json:"seq_no"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload"`
	CreatedAt string `json:"created_at"`
}

// ExportEpisode returns an episode's full event stream in seq order.
func (s *Store) ExportEpisode(ctx context.Context, episodeID string) ([]ExportedEvent, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM episodes WHERE episode_id = ?`, episodeID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("episode %s not found", episodeID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, seq_no, event_type, payload_json, created_at
		FROM memory_events
		WHERE episode_id = ?
		ORDER BY seq_no`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ExportedEvent{}
	for rows.Next() {
		var e ExportedEvent
		var payloadJSON string
		if err := rows.Scan(&e.EventID, &e.SeqNo, &e.EventType, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for event %d: %w", e.EventID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
