package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tkwade/memdeck/internal/canon"
	"github.com/tkwade/memdeck/internal/model"
)

// applyEvent runs the reducer for one event inside the appending
// transaction. Reducers only write projection tables; they never touch
// memory_events, so replay can drop and re-fold everything.
func (s *Store) applyEvent(ctx context.Context, q execer, eventID int64, episodeID, eventType, payloadJSON, createdAt string) error {
	switch eventType {
	case model.EventCandidateProposed, model.EventCardRejected, model.EventCardAdmitted,
		model.EventCardMerged, model.EventCardSuperseded, model.EventCardArchived:
		if err := s.applyConsolidationEvent(ctx, q, eventID, episodeID, eventType, payloadJSON, createdAt); err != nil {
			return err
		}
		if err := s.refreshLedger(ctx, q, episodeID); err != nil {
			return err
		}
		for _, cid := range consolidationCardIDs(eventType, payloadJSON) {
			if err := s.refreshCardIndices(ctx, q, cid, eventID); err != nil {
				return err
			}
		}
		return nil

	case model.EventCardStatusChanged:
		var p cardStatusChangedPayload
		if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE cards SET status = ?, updated_event_id = ? WHERE card_id = ?`,
			p.ToStatus, eventID, p.CardID); err != nil {
			return err
		}
		if err := insertStatusHistory(ctx, q, p.CardID, eventID, p.FromStatus, p.ToStatus, orDefault(p.ReasonCode, "status_change"), createdAt); err != nil {
			return err
		}
		return s.refreshCardIndices(ctx, q, p.CardID, eventID)

	case model.EventCardDeprecated:
		var p cardDeprecatedPayload
		if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
			return err
		}
		fromStatus := cardStatusOr(ctx, q, p.CardID, model.StatusActive)
		if _, err := q.ExecContext(ctx,
			`UPDATE cards SET status = 'deprecated', updated_event_id = ? WHERE card_id = ?`,
			eventID, p.CardID); err != nil {
			return err
		}
		if err := insertStatusHistory(ctx, q, p.CardID, eventID, fromStatus, model.StatusDeprecated, orDefault(p.ReasonCode, "deprecated"), createdAt); err != nil {
			return err
		}
		return s.refreshCardIndices(ctx, q, p.CardID, eventID)

	case model.EventCardPromoted:
		var p cardPromotedPayload
		if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE cards SET scope_tier = ?, scope_id = ?, updated_event_id = ? WHERE card_id = ?`,
			p.ToTier, p.ScopeID, eventID, p.CardID); err != nil {
			return err
		}
		return s.refreshCardIndices(ctx, q, p.CardID, eventID)

	case model.EventDisputeRecorded:
		var p disputeRecordedPayload
		if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO disputes (dispute_id, card_id, evidence_ref_id, weight, event_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.DisputeID, p.CardID, p.EvidenceRefID, p.Weight, eventID, createdAt)
		return err

	case model.EventExposureRecorded:
		var p exposureRecordedPayload
		if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
			return err
		}
		snap := p.PackSnapshot
		rankedJSON, err := canon.JSON(snap.RankedCandidates)
		if err != nil {
			return err
		}
		selectedJSON, err := canon.JSON(snap.SelectedCards)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO pack_snapshots (
			  pack_id, episode_id, channel, query_text, policy_version,
			  ranked_candidates_json, selected_cards_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.PackID, episodeID, snap.Channel, snap.QueryText,
			orDefault(snap.PolicyVersion, model.RuleVersion), rankedJSON, selectedJSON, createdAt); err != nil {
			return err
		}
		for _, exp := range p.Exposures {
			if _, err := q.ExecContext(ctx, `
				INSERT OR REPLACE INTO exposures (
				  exposure_id, episode_id, pack_id, card_id, channel,
				  rank_position, score_total, source_event_id, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				exp.ExposureID, episodeID, snap.PackID, exp.CardID, exp.Channel,
				exp.RankPosition, exp.ScoreTotal, eventID, createdAt); err != nil {
				return err
			}
		}
		return s.recomputeUtility(ctx, q)

	case model.EventOutcomeRecorded:
		var p outcomeRecordedPayload
		if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
			return err
		}
		refsJSON, err := canon.JSON(orSlice(p.EvidenceRefIDs))
		if err != nil {
			return err
		}
		metaJSON, err := canon.JSON(orMap(p.Metadata))
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO outcomes (
			  event_id, episode_id, outcome_type, evidence_ref_ids_json, metadata_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?)`,
			eventID, episodeID, p.OutcomeType, refsJSON, metaJSON, createdAt); err != nil {
			return err
		}
		return s.recomputeUtility(ctx, q)

	case model.EventEpisodeRecorded, model.EventArtifactRecorded,
		model.EventEvidenceRefRecorded, model.EventConsolidationTriggered:
		// Base tables are written by the recorder; these events carry the
		// hashes for audit but have no projection of their own.
		return nil
	}
	return fmt.Errorf("reduce: no reducer for event type %q", eventType)
}

// consolidationCardIDs lists the card ids whose indices an admitted,
// merged, superseded, or archived event touches.
func consolidationCardIDs(eventType, payloadJSON string) []string {
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	switch eventType {
	case model.EventCardAdmitted:
		var p cardAdmittedPayload
		if json.Unmarshal([]byte(payloadJSON), &p) == nil {
			add(p.Card.CardID)
		}
	case model.EventCardMerged:
		var p cardMergedPayload
		if json.Unmarshal([]byte(payloadJSON), &p) == nil {
			add(p.TargetCardID)
		}
	case model.EventCardSuperseded:
		var p cardSupersededPayload
		if json.Unmarshal([]byte(payloadJSON), &p) == nil {
			add(p.OldCardID)
			add(p.NewCardID)
		}
	case model.EventCardArchived:
		var p cardArchivedPayload
		if json.Unmarshal([]byte(payloadJSON), &p) == nil {
			add(p.CardID)
		}
	}
	return ids
}

func (s *Store) applyConsolidationEvent(ctx context.Context, q execer, eventID int64, episodeID, eventType, payloadJSON, createdAt string) error {
	var meta struct {
		CandidateID string `json:"candidate_id"`
		ReasonCode  string `json:"reason_code"`
	}
	if err := json.Unmarshal([]byte(payloadJSON), &meta); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO consolidation_decisions (
		  event_id, episode_id, candidate_id, action, reason_code, details_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eventID, episodeID, nullIfEmpty(meta.CandidateID), eventType,
		nullIfEmpty(meta.ReasonCode), payloadJSON, createdAt); err != nil {
		return err
	}

	switch eventType {
	case model.EventCardAdmitted:
		var p cardAdmittedPayload
		if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
			return err
		}
		card := p.Card
		tagsJSON, err := canon.JSON(orSlice(card.Tags))
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO cards (
			  card_id, kind, statement, scope_tier, scope_id, topic_key,
			  tags_json, status, supersedes_card_id, created_event_id,
			  updated_event_id, archived_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?,
			          COALESCE((SELECT created_event_id FROM cards WHERE card_id = ?), ?),
			          ?, NULL)`,
			card.CardID, card.Kind, card.Statement, card.ScopeTier, card.ScopeID,
			card.TopicKey, tagsJSON, orDefault(card.Status, model.StatusActive),
			nullIfEmpty(card.SupersedesCardID), card.CardID, eventID, eventID); err != nil {
			return err
		}
		for _, evID := range card.EvidenceRefIDs {
			if _, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO card_evidence_refs (card_id, evidence_ref_id) VALUES (?, ?)`,
				card.CardID, evID); err != nil {
				return err
			}
		}

	case model.EventCardMerged:
		var p cardMergedPayload
		if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE cards SET updated_event_id = ? WHERE card_id = ?`,
			eventID, p.TargetCardID); err != nil {
			return err
		}
		for _, evID := range p.EvidenceRefIDs {
			if _, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO card_evidence_refs (card_id, evidence_ref_id) VALUES (?, ?)`,
				p.TargetCardID, evID); err != nil {
				return err
			}
		}

	case model.EventCardSuperseded:
		var p cardSupersededPayload
		if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE cards SET status = 'deprecated', updated_event_id = ? WHERE card_id = ?`,
			eventID, p.OldCardID); err != nil {
			return err
		}
		if err := insertStatusHistory(ctx, q, p.OldCardID, eventID,
			orDefault(p.FromStatus, model.StatusActive), model.StatusDeprecated,
			orDefault(p.ReasonCode, "superseded"), createdAt); err != nil {
			return err
		}

	case model.EventCardArchived:
		var p cardArchivedPayload
		if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
			return err
		}
		fromStatus := cardStatusOr(ctx, q, p.CardID, model.StatusActive)
		if _, err := q.ExecContext(ctx,
			`UPDATE cards SET status = 'archived', archived_at = ?, updated_event_id = ? WHERE card_id = ?`,
			createdAt, eventID, p.CardID); err != nil {
			return err
		}
		if err := insertStatusHistory(ctx, q, p.CardID, eventID, fromStatus,
			model.StatusArchived, orDefault(p.ReasonCode, "archived"), createdAt); err != nil {
			return err
		}
	}
	return nil
}

// refreshLedger re-folds the per-episode consolidation counters from the
// log so the ledger row is always derivable.
func (s *Store) refreshLedger(ctx context.Context, q execer, episodeID string) error {
	rows, err := q.QueryContext(ctx, `
		SELECT event_type, payload_json
		FROM memory_events
		WHERE episode_id = ?
		  AND event_type IN (
		    'candidate_proposed', 'card_admitted', 'card_rejected',
		    'card_merged', 'card_superseded', 'card_archived'
		  )
		ORDER BY event_id`, episodeID)
	if err != nil {
		return err
	}
	defer rows.Close()

	counts := map[string]int{}
	reasons := map[string]int{}
	for rows.Next() {
		var eventType, payloadJSON string
		if err := rows.Scan(&eventType, &payloadJSON); err != nil {
			return err
		}
		counts[eventType]++
		var meta struct {
			ReasonCode string `json:"reason_code"`
		}
		if json.Unmarshal([]byte(payloadJSON), &meta) == nil && meta.ReasonCode != "" {
			reasons[meta.ReasonCode]++
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var computedAt sql.NullString
	if err := q.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM memory_events WHERE episode_id = ?`,
		episodeID).Scan(&computedAt); err != nil {
		return err
	}
	if !computedAt.Valid {
		computedAt = sql.NullString{String: nowISO(), Valid: true}
	}

	reasonsJSON, err := canon.JSON(reasons)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT OR REPLACE INTO consolidation_ledger (
		  episode_id, proposed_count, admitted_count, rejected_count,
		  merged_count, superseded_count, archived_count,
		  reason_breakdown_json, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		episodeID,
		counts[model.EventCandidateProposed],
		counts[model.EventCardAdmitted],
		counts[model.EventCardRejected],
		counts[model.EventCardMerged],
		counts[model.EventCardSuperseded],
		counts[model.EventCardArchived],
		reasonsJSON, computedAt.String)
	return err
}

// refreshCardIndices rewrites the FTS row and the embedding for one card.
// The embedding model comes from policy, so a migrated store re-derives
// vectors under the new model on the next touch.
func (s *Store) refreshCardIndices(ctx context.Context, q execer, cardID string, updatedEventID int64) error {
	var statement, topicKey, tagsJSON string
	err := q.QueryRowContext(ctx,
		`SELECT statement, topic_key, tags_json FROM cards WHERE card_id = ?`,
		cardID).Scan(&statement, &topicKey, &tagsJSON)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM cards_fts WHERE card_id = ?`, cardID); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO cards_fts (card_id, statement, topic_key, tags) VALUES (?, ?, ?, ?)`,
		cardID, statement, topicKey, tagsJSON); err != nil {
		return err
	}

	emb := s.embedder()
	vec, err := emb.Embed(ctx, statement)
	if err != nil {
		return fmt.Errorf("embed card %s: %w", cardID, err)
	}
	vecJSON, err := canon.JSON(vec)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT OR REPLACE INTO card_embeddings (card_id, embedding_model, embedding_vector, updated_event_id)
		VALUES (?, ?, ?, ?)`,
		cardID, emb.Model(), vecJSON, updatedEventID)
	return err
}

func insertStatusHistory(ctx context.Context, q execer, cardID string, eventID int64, fromStatus, toStatus, reason, createdAt string) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO card_status_history (
		  card_id, event_id, from_status, to_status, reason_code, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		cardID, eventID, fromStatus, toStatus, reason, createdAt)
	return err
}

func cardStatusOr(ctx context.Context, q execer, cardID, fallback string) string {
	var status string
	if err := q.QueryRowContext(ctx,
		`SELECT status FROM cards WHERE card_id = ?`, cardID).Scan(&status); err != nil {
		return fallback
	}
	return status
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func orSlice(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func orMap(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
