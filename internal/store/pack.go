package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tkwade/memdeck/internal/canon"
	"github.com/tkwade/memdeck/internal/model"
)

// Pack slot groups. Preferences share the normative slot group.
const (
	slotNormative      = "constraints_commitments"
	slotNegativeResult = "negative_result"
	slotTactic         = "tactic"
	slotFact           = "fact"
)

func slotGroupForKind(kind string) string {
	switch kind {
	case model.KindConstraint, model.KindCommitment, model.KindPreference:
		return slotNormative
	case model.KindNegativeResult:
		return slotNegativeResult
	case model.KindTactic:
		return slotTactic
	}
	return slotFact
}

// PackResult describes a built pack.
type PackResult struct {
	EpisodeID     string                  `json:"episode_id"`
	PackID        string                  `json:"pack_id"`
	Channel       string                  `json:"channel"`
	EventID       int64                   `json:"event_id"`
	SelectedCount int                     `json:"selected_count"`
	SelectedCards []selectedSnapshotEntry `json:"selected_cards"`
	SlotCounts    map[string]int          `json:"slot_counts"`
}

// BuildPack retrieves, selects under the slot and topic caps, snapshots
// the decision, and records exposures in a single event. A recent
// tool_failure outcome reserves one negative_result slot ahead of the
// normal fill.
func (s *Store) BuildPack(ctx context.Context, episodeID, query, channel, producer string) (PackResult, error) {
	if !model.ValidChannels[channel] {
		return PackResult{}, fmt.Errorf("invalid channel: %s", channel)
	}

	// Hygiene runs only on the ambient channel so read-style queries
	// never mutate state.
	if channel == model.ChannelAutoPack {
		if _, err := s.ArchiveHygienePass(ctx, episodeID, producer); err != nil {
			return PackResult{}, err
		}
	}

	ranked, err := s.Retrieve(ctx, RetrieveParams{
		Query:           query,
		EpisodeID:       episodeID,
		IncludeArchived: channel != model.ChannelAutoPack,
		Limit:           s.policy.Pack.CandidateLimit,
		Channel:         channel,
	})
	if err != nil {
		return PackResult{}, err
	}

	pol := s.policy.Pack
	var selected []ScoredCard
	topicCounts := map[string]int{}
	slotCounts := map[string]int{
		slotNormative:      0,
		slotNegativeResult: 0,
		slotTactic:         0,
		slotFact:           0,
	}
	inSelected := map[string]bool{}

	take := func(c ScoredCard, group string) {
		selected = append(selected, c)
		inSelected[c.CardID] = true
		slotCounts[group]++
		topicCounts[c.TopicKey]++
	}

	recentFailure, err := s.hasRecentFailure(ctx, episodeID)
	if err != nil {
		return PackResult{}, err
	}
	if recentFailure {
		for _, c := range ranked {
			if c.Kind == model.KindNegativeResult && topicCounts[c.TopicKey] < pol.TopicCap {
				if slotCounts[slotNegativeResult] < pol.SlotCaps[slotNegativeResult] {
					take(c, slotNegativeResult)
					break
				}
			}
		}
	}

	for _, c := range ranked {
		if len(selected) >= pol.TotalCap {
			break
		}
		if inSelected[c.CardID] {
			continue
		}
		if topicCounts[c.TopicKey] >= pol.TopicCap {
			continue
		}
		group := slotGroupForKind(c.Kind)
		if slotCounts[group] >= pol.SlotCaps[group] {
			continue
		}
		take(c, group)
	}
	if len(selected) > pol.TotalCap {
		selected = selected[:pol.TotalCap]
	}

	packID := s.newID("pack")

	rankedSnapshot := make([]rankedSnapshotEntry, 0, pol.RankedSnapshotLimit)
	for i, c := range ranked {
		if i >= pol.RankedSnapshotLimit {
			break
		}
		rankedSnapshot = append(rankedSnapshot, rankedSnapshotEntry{
			Rank:       i + 1,
			CardID:     c.CardID,
			Kind:       c.Kind,
			ScoreTotal: c.ScoreTotal,
			Components: c.Components,
			Status:     c.Status,
			TopicKey:   c.TopicKey,
			Hop:        c.Hop,
		})
	}

	selectedSnapshot := make([]selectedSnapshotEntry, 0, len(selected))
	exposures := make([]exposureEntry, 0, len(selected))
	for i, c := range selected {
		evidenceIDs, err := s.cardEvidenceIDs(ctx, c.CardID)
		if err != nil {
			return PackResult{}, err
		}
		selectedSnapshot = append(selectedSnapshot, selectedSnapshotEntry{
			Rank:           i + 1,
			CardID:         c.CardID,
			Kind:           c.Kind,
			ScoreTotal:     c.ScoreTotal,
			Status:         c.Status,
			TopicKey:       c.TopicKey,
			EvidenceRefIDs: evidenceIDs,
		})
		exposures = append(exposures, exposureEntry{
			ExposureID:   canon.ID("exp", packID, c.CardID, fmt.Sprintf("%d", i+1)),
			CardID:       c.CardID,
			Channel:      channel,
			RankPosition: i + 1,
			ScoreTotal:   c.ScoreTotal,
		})
	}

	res, err := s.Append(ctx, AppendParams{
		EpisodeID: episodeID,
		EventType: model.EventExposureRecorded,
		Payload: exposureRecordedPayload{
			SchemaVersion: model.SchemaVersion,
			Channel:       channel,
			PackSnapshot: packSnapshotPayload{
				PackID:           packID,
				Channel:          channel,
				QueryText:        query,
				PolicyVersion:    model.RuleVersion,
				RankedCandidates: rankedSnapshot,
				SelectedCards:    selectedSnapshot,
			},
			Exposures: exposures,
		},
		IdempotencyKey: fmt.Sprintf("exposure_recorded:%s:%s", episodeID, packID),
		Producer:       producer,
	})
	if err != nil {
		return PackResult{}, err
	}

	return PackResult{
		EpisodeID:     episodeID,
		PackID:        packID,
		Channel:       channel,
		EventID:       res.EventID,
		SelectedCount: len(selectedSnapshot),
		SelectedCards: selectedSnapshot,
		SlotCounts:    slotCounts,
	}, nil
}

func (s *Store) cardEvidenceIDs(ctx context.Context, cardID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT evidence_ref_id FROM card_evidence_refs WHERE card_id = ? ORDER BY evidence_ref_id`,
		cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) hasRecentFailure(ctx context.Context, episodeID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM outcomes
		WHERE episode_id = ? AND outcome_type = 'tool_failure'
		ORDER BY event_id DESC LIMIT 1`, episodeID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PackExplanation reconstructs why a pack looked the way it did from
// its persisted snapshot.
type PackExplanation struct {
	PackID           string                  `json:"pack_id"`
	EpisodeID        string                  `json:"episode_id"`
	Channel          string                  `json:"channel"`
	QueryText        string                  `json:"query_text"`
	PolicyVersion    string                  `json:"policy_version"`
	RankedCandidates []rankedSnapshotEntry   `json:"ranked_candidates"`
	SelectedCards    []selectedSnapshotEntry `json:"selected_cards"`
}

// ExplainPack returns the snapshot for packID, or the episode's most
// recent pack when packID is empty.
func (s *Store) ExplainPack(ctx context.Context, episodeID, packID string) (PackExplanation, error) {
	var row *sql.Row
	if packID != "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT pack_id, episode_id, channel, COALESCE(query_text, ''), policy_version,
			       ranked_candidates_json, selected_cards_json
			FROM pack_snapshots WHERE pack_id = ?`, packID)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT pack_id, episode_id, channel, COALESCE(query_text, ''), policy_version,
			       ranked_candidates_json, selected_cards_json
			FROM pack_snapshots
			WHERE episode_id = ?
			ORDER BY created_at DESC, pack_id DESC
			LIMIT 1`, episodeID)
	}

	var ex PackExplanation
	var rankedJSON, selectedJSON string
	err := row.Scan(&ex.PackID, &ex.EpisodeID, &ex.Channel, &ex.QueryText,
		&ex.PolicyVersion, &rankedJSON, &selectedJSON)
	if err == sql.ErrNoRows {
		return PackExplanation{}, fmt.Errorf("pack snapshot not found")
	}
	if err != nil {
		return PackExplanation{}, err
	}
	if err := json.Unmarshal([]byte(rankedJSON), &ex.RankedCandidates); err != nil {
		return PackExplanation{}, err
	}
	if err := json.Unmarshal([]byte(selectedJSON), &ex.SelectedCards); err != nil {
		return PackExplanation{}, err
	}
	return ex, nil
}

// ConsolidationDecision is one replayable gate decision.
type ConsolidationDecision struct {
	Action     string         `json:"action"`
	ReasonCode string         `json:"reason_code,omitempty"`
	Details    map[string]any `json:"details"`
	CreatedAt  string         `json:"created_at"`
}

// ConsolidationExplanation pairs the episode ledger with its ordered
// decision trail.
type ConsolidationExplanation struct {
	EpisodeID string                  `json:"episode_id"`
	Ledger    model.Ledger            `json:"ledger"`
	Decisions []ConsolidationDecision `json:"decisions"`
}

// ExplainConsolidation returns every consolidation decision recorded
// for an episode, in decision order.
func (s *Store) ExplainConsolidation(ctx context.Context, episodeID string) (ConsolidationExplanation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, COALESCE(reason_code, ''), details_json, created_at
		FROM consolidation_decisions
		WHERE episode_id = ?
		ORDER BY decision_id`, episodeID)
	if err != nil {
		return ConsolidationExplanation{}, err
	}
	defer rows.Close()

	out := ConsolidationExplanation{EpisodeID: episodeID, Decisions: []ConsolidationDecision{}}
	for rows.Next() {
		var d ConsolidationDecision
		var detailsJSON string
		if err := rows.Scan(&d.Action, &d.ReasonCode, &detailsJSON, &d.CreatedAt); err != nil {
			return ConsolidationExplanation{}, err
		}
		d.Details = map[string]any{}
		if err := json.Unmarshal([]byte(detailsJSON), &d.Details); err != nil {
			return ConsolidationExplanation{}, err
		}
		out.Decisions = append(out.Decisions, d)
	}
	if err := rows.Err(); err != nil {
		return ConsolidationExplanation{}, err
	}

	ledger, err := s.Ledger(ctx, episodeID)
	if err != nil {
		return ConsolidationExplanation{}, err
	}
	out.Ledger = ledger
	return out, nil
}
