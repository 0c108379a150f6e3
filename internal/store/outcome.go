package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tkwade/memdeck/internal/canon"
	"github.com/tkwade/memdeck/internal/model"
)

// RecordOutcome appends a terminal outcome signal for an episode. The
// idempotency key is content-derived, so re-sending the same outcome is
// a no-op while a genuinely new signal appends.
func (s *Store) RecordOutcome(ctx context.Context, episodeID, outcomeType string, evidenceRefIDs []string, metadata map[string]any, producer string) (AppendResult, error) {
	if !model.TerminalOutcomes[outcomeType] {
		return AppendResult{}, fmt.Errorf("invalid outcome type: %s", outcomeType)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	sortedRefs := append([]string{}, evidenceRefIDs...)
	sort.Strings(sortedRefs)
	keyJSON, err := canon.JSON(map[string]any{
		"episode_id":       episodeID,
		"outcome_type":     outcomeType,
		"evidence_ref_ids": sortedRefs,
		"metadata":         metadata,
	})
	if err != nil {
		return AppendResult{}, err
	}

	return s.Append(ctx, AppendParams{
		EpisodeID: episodeID,
		EventType: model.EventOutcomeRecorded,
		Payload: outcomeRecordedPayload{
			SchemaVersion:  model.SchemaVersion,
			OutcomeType:    outcomeType,
			EvidenceRefIDs: orSlice(evidenceRefIDs),
			Metadata:       metadata,
		},
		IdempotencyKey: "outcome_recorded:" + canon.SHA256Hex(keyJSON)[:24],
		Producer:       producer,
	})
}

// recomputeUtility re-derives utility_stats from scratch. Reuse counts
// every exposure of a tactic card on any channel. Wins and losses are
// credited per episode to the top-K ambient tactic exposures that
// happened before the episode's first terminal outcome, and only when
// the episode carries at least one anchored outcome.
func (s *Store) recomputeUtility(ctx context.Context, q execer) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM utility_stats`); err != nil {
		return err
	}

	type stat struct {
		wins, losses, reuse int
		updatedEvent        int64
	}
	stats := map[string]*stat{}

	reuseRows, err := q.QueryContext(ctx, `
		SELECT e.card_id, COUNT(*), COALESCE(MAX(e.source_event_id), 0)
		FROM exposures e
		JOIN cards c ON c.card_id = e.card_id
		WHERE c.kind = 'tactic'
		GROUP BY e.card_id`)
	if err != nil {
		return err
	}
	for reuseRows.Next() {
		var cardID string
		var reuse int
		var lastEvent int64
		if err := reuseRows.Scan(&cardID, &reuse, &lastEvent); err != nil {
			reuseRows.Close()
			return err
		}
		stats[cardID] = &stat{reuse: reuse, updatedEvent: lastEvent}
	}
	if err := reuseRows.Close(); err != nil {
		return err
	}

	epRows, err := q.QueryContext(ctx, `SELECT DISTINCT episode_id FROM outcomes ORDER BY episode_id`)
	if err != nil {
		return err
	}
	var episodeIDs []string
	for epRows.Next() {
		var id string
		if err := epRows.Scan(&id); err != nil {
			epRows.Close()
			return err
		}
		episodeIDs = append(episodeIDs, id)
	}
	if err := epRows.Close(); err != nil {
		return err
	}

	for _, episodeID := range episodeIDs {
		outRows, err := q.QueryContext(ctx, `
			SELECT o.event_id, o.outcome_type, o.evidence_ref_ids_json, me.seq_no
			FROM outcomes o
			JOIN memory_events me ON me.event_id = o.event_id
			WHERE o.episode_id = ?
			ORDER BY me.seq_no ASC`, episodeID)
		if err != nil {
			return err
		}

		anchored := false
		success := false
		failure := false
		firstTerminalSeq := -1
		var firstTerminalEvent int64
		for outRows.Next() {
			var eventID int64
			var outcomeType, refsJSON string
			var seqNo int
			if err := outRows.Scan(&eventID, &outcomeType, &refsJSON, &seqNo); err != nil {
				outRows.Close()
				return err
			}
			var refs []string
			if json.Unmarshal([]byte(refsJSON), &refs) == nil && len(refs) > 0 {
				anchored = true
			}
			switch outcomeType {
			case model.OutcomeToolSuccess, model.OutcomeConfirmedHelpful:
				success = true
			case model.OutcomeToolFailure, model.OutcomeUserCorrected:
				failure = true
			}
			if model.TerminalOutcomes[outcomeType] && firstTerminalSeq < 0 {
				firstTerminalSeq = seqNo
				firstTerminalEvent = eventID
			}
		}
		if err := outRows.Close(); err != nil {
			return err
		}
		if !anchored || firstTerminalSeq < 0 {
			continue
		}

		expRows, err := q.QueryContext(ctx, `
			SELECT e.card_id
			FROM exposures e
			JOIN cards c ON c.card_id = e.card_id
			JOIN memory_events me ON me.event_id = e.source_event_id
			WHERE e.episode_id = ? AND e.channel = 'auto_pack' AND c.kind = 'tactic'
			  AND me.seq_no < ?
			ORDER BY e.rank_position ASC, e.score_total DESC, e.card_id ASC`,
			episodeID, firstTerminalSeq)
		if err != nil {
			return err
		}
		var eligible []string
		for expRows.Next() {
			var cardID string
			if err := expRows.Scan(&cardID); err != nil {
				expRows.Close()
				return err
			}
			if len(eligible) < s.policy.Attribution.TopK {
				eligible = append(eligible, cardID)
			}
		}
		if err := expRows.Close(); err != nil {
			return err
		}

		for _, cardID := range eligible {
			st := stats[cardID]
			if st == nil {
				st = &stat{}
				stats[cardID] = st
			}
			if success {
				st.wins++
			}
			if failure {
				st.losses++
			}
			if firstTerminalEvent > st.updatedEvent {
				st.updatedEvent = firstTerminalEvent
			}
		}
	}

	cardIDs := make([]string, 0, len(stats))
	for id := range stats {
		cardIDs = append(cardIDs, id)
	}
	sort.Strings(cardIDs)
	for _, id := range cardIDs {
		st := stats[id]
		if _, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO utility_stats (card_id, wins, losses, reuse, updated_event_id)
			VALUES (?, ?, ?, ?, ?)`,
			id, st.wins, st.losses, st.reuse, st.updatedEvent); err != nil {
			return err
		}
	}
	return nil
}
