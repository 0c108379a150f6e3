package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tkwade/memdeck/internal/canon"
	"github.com/tkwade/memdeck/internal/model"
)

// AppendParams describes one event to append to an episode's log.
type AppendParams struct {
	EpisodeID      string
	EventType      string
	Payload        any
	IdempotencyKey string
	Producer       string
	RuleVersion    string
	// SkipApply appends the row without running the reducer. Used by
	// replay verification, which re-applies the whole log itself.
	SkipApply bool
}

// AppendResult reports where an event landed. Inserted is false when the
// idempotency key matched an earlier append, in which case EventID and
// SeqNo identify the original row and nothing was written.
type AppendResult struct {
	EventID  int64 `json:"event_id"`
	SeqNo    int   `json:"seq_no"`
	Inserted bool  `json:"inserted"`
}

// Append writes one event in its own transaction and applies the
// reducer for it before committing.
func (s *Store) Append(ctx context.Context, p AppendParams) (AppendResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AppendResult{}, err
	}
	defer tx.Rollback()

	res, err := s.appendTx(ctx, tx, p)
	if err != nil {
		return AppendResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AppendResult{}, err
	}
	return res, nil
}

func (s *Store) appendTx(ctx context.Context, tx *sql.Tx, p AppendParams) (AppendResult, error) {
	if !model.ValidEventTypes[p.EventType] {
		return AppendResult{}, fmt.Errorf("append: unknown event type %q", p.EventType)
	}
	if p.EpisodeID == "" {
		return AppendResult{}, fmt.Errorf("append: episode id required")
	}
	if p.IdempotencyKey == "" {
		return AppendResult{}, fmt.Errorf("append: idempotency key required")
	}
	if p.Producer == "" {
		p.Producer = "memdeck"
	}
	if p.RuleVersion == "" {
		p.RuleVersion = model.RuleVersion
	}

	var existingID int64
	var existingSeq int
	err := tx.QueryRowContext(ctx,
		`SELECT event_id, seq_no FROM memory_events WHERE idempotency_key = ?`,
		p.IdempotencyKey).Scan(&existingID, &existingSeq)
	if err == nil {
		return AppendResult{EventID: existingID, SeqNo: existingSeq, Inserted: false}, nil
	}
	if err != sql.ErrNoRows {
		return AppendResult{}, err
	}

	payloadJSON, err := canon.JSON(p.Payload)
	if err != nil {
		return AppendResult{}, fmt.Errorf("append: canonicalize payload: %w", err)
	}
	payloadHash := canon.SHA256Hex(payloadJSON)

	var seqNo int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq_no), 0) + 1 FROM memory_events WHERE episode_id = ?`,
		p.EpisodeID).Scan(&seqNo); err != nil {
		return AppendResult{}, err
	}

	createdAt := nowISO()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO memory_events
			(episode_id, seq_no, event_type, payload_json, payload_hash,
			 idempotency_key, producer, rule_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.EpisodeID, seqNo, p.EventType, payloadJSON, payloadHash,
		p.IdempotencyKey, p.Producer, p.RuleVersion, createdAt)
	if err != nil {
		return AppendResult{}, fmt.Errorf("append: insert event: %w", err)
	}
	eventID, err := res.LastInsertId()
	if err != nil {
		return AppendResult{}, err
	}

	if !p.SkipApply {
		if err := s.applyEvent(ctx, tx, eventID, p.EpisodeID, p.EventType, payloadJSON, createdAt); err != nil {
			return AppendResult{}, fmt.Errorf("append: apply %s: %w", p.EventType, err)
		}
	}
	return AppendResult{EventID: eventID, SeqNo: seqNo, Inserted: true}, nil
}
