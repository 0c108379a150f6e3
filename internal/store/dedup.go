package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tkwade/memdeck/internal/canon"
	"github.com/tkwade/memdeck/internal/model"
	"github.com/tkwade/memdeck/internal/textutil"
)

// DedupResult reports one sweep.
type DedupResult struct {
	Merged int `json:"merged"`
}

// DedupSweep merges residual hard duplicates within each kind/scope
// group. The winner is the card with the most evidence, then the most
// recent update, then the lowest card id; losers fold their evidence
// into the winner and are archived.
func (s *Store) DedupSweep(ctx context.Context, producer string) (DedupResult, error) {
	groups, err := s.db.QueryContext(ctx, `
		SELECT kind, scope_tier, scope_id
		FROM cards
		WHERE status IN ('active', 'needs_recheck')
		GROUP BY kind, scope_tier, scope_id
		HAVING COUNT(*) > 1
		ORDER BY kind, scope_tier, scope_id`)
	if err != nil {
		return DedupResult{}, err
	}
	type group struct{ kind, tier, scopeID string }
	var gs []group
	for groups.Next() {
		var g group
		if err := groups.Scan(&g.kind, &g.tier, &g.scopeID); err != nil {
			groups.Close()
			return DedupResult{}, err
		}
		gs = append(gs, g)
	}
	if err := groups.Close(); err != nil {
		return DedupResult{}, err
	}

	res := DedupResult{}
	for _, g := range gs {
		rows, err := s.db.QueryContext(ctx, `
			SELECT c.card_id, c.statement, c.updated_event_id,
			       COUNT(cer.evidence_ref_id) AS evidence_count
			FROM cards c
			LEFT JOIN card_evidence_refs cer ON cer.card_id = c.card_id
			WHERE c.kind = ? AND c.scope_tier = ? AND c.scope_id = ?
			  AND c.status IN ('active', 'needs_recheck')
			GROUP BY c.card_id, c.statement, c.updated_event_id
			ORDER BY evidence_count DESC, c.updated_event_id DESC, c.card_id ASC`,
			g.kind, g.tier, g.scopeID)
		if err != nil {
			return DedupResult{}, err
		}
		type member struct {
			cardID, statement string
			updatedEventID    int64
			evidenceCount     int
		}
		var members []member
		for rows.Next() {
			var m member
			if err := rows.Scan(&m.cardID, &m.statement, &m.updatedEventID, &m.evidenceCount); err != nil {
				rows.Close()
				return DedupResult{}, err
			}
			members = append(members, m)
		}
		if err := rows.Close(); err != nil {
			return DedupResult{}, err
		}
		if len(members) < 2 {
			continue
		}

		winner := members[0]
		nov := s.policy.Novelty
		for _, loser := range members[1:] {
			lex := textutil.Jaccard(winner.statement, loser.statement)
			cos := textutil.TokenCosine(winner.statement, loser.statement)
			if lex < nov.DuplicateLexical || cos < nov.DuplicateCosine {
				continue
			}
			episodeID, err := s.latestEpisodeForCard(ctx, loser.cardID)
			if err != nil {
				return DedupResult{}, err
			}
			if episodeID == "" {
				continue
			}
			res.Merged++

			evidenceIDs, err := s.cardEvidenceIDs(ctx, loser.cardID)
			if err != nil {
				return DedupResult{}, err
			}
			if _, err := s.Append(ctx, AppendParams{
				EpisodeID: episodeID,
				EventType: model.EventCardMerged,
				Payload: cardMergedPayload{
					SchemaVersion:  model.SchemaVersion,
					CandidateID:    canon.ID("cand", loser.cardID, winner.cardID, "dedup"),
					TargetCardID:   winner.cardID,
					EvidenceRefIDs: evidenceIDs,
					ReasonCode:     "daily_dedup_merge",
				},
				IdempotencyKey: fmt.Sprintf("daily_dedup_merge:%s:%s", winner.cardID, loser.cardID),
				Producer:       producer,
			}); err != nil {
				return DedupResult{}, err
			}
			if _, err := s.Append(ctx, AppendParams{
				EpisodeID: episodeID,
				EventType: model.EventCardArchived,
				Payload: cardArchivedPayload{
					SchemaVersion: model.SchemaVersion,
					CardID:        loser.cardID,
					ReasonCode:    "daily_dedup_archived_duplicate",
				},
				IdempotencyKey: "daily_dedup_archive:" + loser.cardID,
				Producer:       producer,
			}); err != nil {
				return DedupResult{}, err
			}
		}
	}
	return res, nil
}

// latestEpisodeForCard finds the most recent episode whose
// consolidation trail mentions the card, so sweep events stay attached
// to a real episode log.
func (s *Store) latestEpisodeForCard(ctx context.Context, cardID string) (string, error) {
	var episodeID string
	err := s.db.QueryRowContext(ctx, `
		SELECT me.episode_id
		FROM consolidation_decisions cd
		JOIN memory_events me ON me.event_id = cd.event_id
		WHERE cd.details_json LIKE ?
		ORDER BY me.event_id DESC
		LIMIT 1`, "%"+cardID+"%").Scan(&episodeID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return episodeID, err
}

// ArchiveHygienePass archives cards with no dispute signal, no
// positive utility, and no exposure within the configured window.
// Cards that were never exposed are left alone.
func (s *Store) ArchiveHygienePass(ctx context.Context, episodeID, producer string) (int, error) {
	cutoff := time.Now().UTC().
		AddDate(0, 0, -s.policy.Hygiene.ArchiveAfterDays).
		Truncate(time.Second).Format(time.RFC3339)

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.card_id,
		       COALESCE(u.wins, 0), COALESCE(u.losses, 0), COALESCE(u.reuse, 0),
		       (SELECT MAX(e.created_at) FROM exposures e WHERE e.card_id = c.card_id),
		       (SELECT COALESCE(SUM(d.weight), 0.0) FROM disputes d WHERE d.card_id = c.card_id)
		FROM cards c
		LEFT JOIN utility_stats u ON u.card_id = c.card_id
		WHERE c.status = 'active'
		ORDER BY c.card_id`)
	if err != nil {
		return 0, err
	}
	type row struct {
		cardID              string
		wins, losses, reuse int
		lastExposed         sql.NullString
		disputeMass         float64
	}
	var candidates []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.cardID, &r.wins, &r.losses, &r.reuse, &r.lastExposed, &r.disputeMass); err != nil {
			rows.Close()
			return 0, err
		}
		candidates = append(candidates, r)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	archived := 0
	for _, r := range candidates {
		utility := float64(r.wins-r.losses) + 0.1*float64(r.reuse)
		if r.disputeMass > 0 || utility > 0 {
			continue
		}
		if !r.lastExposed.Valid || r.lastExposed.String > cutoff {
			continue
		}
		if _, err := s.Append(ctx, AppendParams{
			EpisodeID: episodeID,
			EventType: model.EventCardArchived,
			Payload: cardArchivedPayload{
				SchemaVersion: model.SchemaVersion,
				CardID:        r.cardID,
				ReasonCode:    "archive_hygiene_low_signal",
			},
			IdempotencyKey: "archive_hygiene:" + r.cardID,
			Producer:       producer,
		}); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}
