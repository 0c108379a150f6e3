package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tkwade/memdeck/internal/canon"
	"github.com/tkwade/memdeck/internal/model"
	"github.com/tkwade/memdeck/internal/textutil"
)

// Rejection reason codes, ordered by gate position.
const (
	ReasonMissingEvidence   = "missing_required_evidence"
	ReasonDuplicate         = "duplicate_of_existing_card"
	ReasonNoveltyBelow      = "novelty_below_threshold"
	ReasonEpisodeKindCap    = "episode_kind_cap_exceeded"
	ReasonEpisodeSoftCap    = "episode_soft_cap_exceeded"
	ReasonScopeKindBudget   = "scope_kind_budget_exceeded"
)

// ConsolidateResult summarizes one consolidation run.
type ConsolidateResult struct {
	EpisodeID  string       `json:"episode_id"`
	Proposed   int          `json:"proposed"`
	Admitted   int          `json:"admitted"`
	Rejected   int          `json:"rejected"`
	Merged     int          `json:"merged"`
	Superseded int          `json:"superseded"`
	Ledger     model.Ledger `json:"ledger"`
}

type candidate struct {
	CandidateID    string
	Kind           string
	Statement      string
	ScopeTier      string
	ScopeID        string
	TopicKey       string
	EvidenceRefIDs []string
}

type similarityMatch struct {
	CardID  string
	Lexical float64
	Cosine  float64
	Score   float64
}

// ConsolidateEpisode runs the gate pipeline over the episode's
// evidence. Candidates are processed in deterministic order so replay
// from the same log produces the same admissions. Re-running never
// creates a second card: candidates already admitted hit the duplicate
// gate, and the reject decision that records is the only new event.
func (s *Store) ConsolidateEpisode(ctx context.Context, episodeID, producer string) (ConsolidateResult, error) {
	var metadataJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata_json FROM episodes WHERE episode_id = ?`, episodeID).Scan(&metadataJSON)
	if err == sql.ErrNoRows {
		return ConsolidateResult{}, fmt.Errorf("episode not found: %s", episodeID)
	}
	if err != nil {
		return ConsolidateResult{}, err
	}

	scopeTier, scopeID := model.TierRepo, "default"
	var metadata map[string]any
	if json.Unmarshal([]byte(metadataJSON), &metadata) == nil {
		if v, ok := metadata["scope_tier"].(string); ok && v != "" {
			scopeTier = v
		}
		if v, ok := metadata["scope_id"].(string); ok && v != "" {
			scopeID = v
		}
	}

	candidates, err := s.generateCandidates(ctx, episodeID, scopeTier, scopeID)
	if err != nil {
		return ConsolidateResult{}, err
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if pa, pb := kindPriorityOr(a.Kind), kindPriorityOr(b.Kind); pa != pb {
			return pa < pb
		}
		an := strings.ToLower(textutil.NormalizeStatement(a.Statement, s.policy.MaxStatementLen))
		bn := strings.ToLower(textutil.NormalizeStatement(b.Statement, s.policy.MaxStatementLen))
		if an != bn {
			return an < bn
		}
		if a.ScopeTier != b.ScopeTier {
			return a.ScopeTier < b.ScopeTier
		}
		if a.ScopeID != b.ScopeID {
			return a.ScopeID < b.ScopeID
		}
		return a.CandidateID < b.CandidateID
	})

	res := ConsolidateResult{EpisodeID: episodeID, Proposed: len(candidates)}

	admittedByKind, err := s.countEpisodeAdmittedByKind(ctx, episodeID)
	if err != nil {
		return ConsolidateResult{}, err
	}
	admittedTotal := 0
	for _, n := range admittedByKind {
		admittedTotal += n
	}

	for _, cand := range candidates {
		if _, err := s.Append(ctx, AppendParams{
			EpisodeID: episodeID,
			EventType: model.EventCandidateProposed,
			Payload: candidateProposedPayload{
				SchemaVersion:  model.SchemaVersion,
				CandidateID:    cand.CandidateID,
				Kind:           cand.Kind,
				Statement:      cand.Statement,
				ScopeTier:      cand.ScopeTier,
				ScopeID:        cand.ScopeID,
				TopicKey:       cand.TopicKey,
				EvidenceRefIDs: cand.EvidenceRefIDs,
			},
			IdempotencyKey: fmt.Sprintf("candidate_proposed:%s:%s", episodeID, cand.CandidateID),
			Producer:       producer,
		}); err != nil {
			return ConsolidateResult{}, err
		}

		// Gate 1: evidence invariant.
		if ok, why, err := s.validateEvidenceInvariant(ctx, cand); err != nil {
			return ConsolidateResult{}, err
		} else if !ok {
			res.Rejected++
			if err := s.appendReject(ctx, episodeID, cand, ReasonMissingEvidence,
				map[string]any{"invariant_reason": why}, producer); err != nil {
				return ConsolidateResult{}, err
			}
			continue
		}

		best, err := s.findBestSimilarityMatch(ctx, cand)
		if err != nil {
			return ConsolidateResult{}, err
		}
		nov := s.policy.Novelty

		// Gate 2: hard duplicate needs both signals high.
		if best != nil && best.Lexical >= nov.DuplicateLexical && best.Cosine >= nov.DuplicateCosine {
			res.Rejected++
			if err := s.appendReject(ctx, episodeID, cand, ReasonDuplicate, map[string]any{
				"matched_card_id": best.CardID,
				"lexical":         best.Lexical,
				"cosine":          best.Cosine,
			}, producer); err != nil {
				return ConsolidateResult{}, err
			}
			continue
		}

		// Gate 3: near duplicate needs either signal high.
		if best != nil && (best.Lexical >= nov.NearLexical || best.Cosine >= nov.NearCosine) {
			res.Rejected++
			if err := s.appendReject(ctx, episodeID, cand, ReasonNoveltyBelow, map[string]any{
				"matched_card_id": best.CardID,
				"lexical":         best.Lexical,
				"cosine":          best.Cosine,
			}, producer); err != nil {
				return ConsolidateResult{}, err
			}
			continue
		}

		// Gate 4: per-episode kind cap.
		if kindCap, ok := s.policy.EpisodeKindCaps[cand.Kind]; ok && admittedByKind[cand.Kind] >= kindCap {
			res.Rejected++
			if err := s.appendReject(ctx, episodeID, cand, ReasonEpisodeKindCap,
				map[string]any{"kind_cap": kindCap}, producer); err != nil {
				return ConsolidateResult{}, err
			}
			continue
		}

		// Gate 5: per-episode soft cap.
		if admittedTotal >= s.policy.EpisodeSoftCap {
			res.Rejected++
			if err := s.appendReject(ctx, episodeID, cand, ReasonEpisodeSoftCap,
				map[string]any{"soft_cap": s.policy.EpisodeSoftCap}, producer); err != nil {
				return ConsolidateResult{}, err
			}
			continue
		}

		// Gate 6: store-wide scope/kind budget.
		var activeScopeCount int
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM cards
			WHERE scope_tier = ? AND kind = ? AND status IN ('active', 'needs_recheck')`,
			cand.ScopeTier, cand.Kind).Scan(&activeScopeCount); err != nil {
			return ConsolidateResult{}, err
		}
		budget := s.policy.BudgetCaps[cand.ScopeTier][cand.Kind]
		if activeScopeCount >= budget {
			res.Rejected++
			if err := s.appendReject(ctx, episodeID, cand, ReasonScopeKindBudget,
				map[string]any{"budget": budget}, producer); err != nil {
				return ConsolidateResult{}, err
			}
			continue
		}

		mergeTarget, err := s.findExactMergeTarget(ctx, cand)
		if err != nil {
			return ConsolidateResult{}, err
		}
		if mergeTarget != "" {
			res.Merged++
			if _, err := s.Append(ctx, AppendParams{
				EpisodeID: episodeID,
				EventType: model.EventCardMerged,
				Payload: cardMergedPayload{
					SchemaVersion:  model.SchemaVersion,
					CandidateID:    cand.CandidateID,
					TargetCardID:   mergeTarget,
					EvidenceRefIDs: cand.EvidenceRefIDs,
					ReasonCode:     "exact_statement_match",
				},
				IdempotencyKey: fmt.Sprintf("card_merged:%s:%s:%s", episodeID, cand.CandidateID, mergeTarget),
				Producer:       producer,
			}); err != nil {
				return ConsolidateResult{}, err
			}
			continue
		}

		supersedeTarget, err := s.findSupersedeTarget(ctx, cand)
		if err != nil {
			return ConsolidateResult{}, err
		}
		cardID := canon.ID("card",
			cand.Kind, cand.ScopeTier, cand.ScopeID,
			strings.ToLower(textutil.NormalizeStatement(cand.Statement, s.policy.MaxStatementLen)))

		if _, err := s.Append(ctx, AppendParams{
			EpisodeID: episodeID,
			EventType: model.EventCardAdmitted,
			Payload: cardAdmittedPayload{
				SchemaVersion: model.SchemaVersion,
				CandidateID:   cand.CandidateID,
				ReasonCode:    "admitted",
				Card: cardPayload{
					CardID:           cardID,
					Kind:             cand.Kind,
					Statement:        cand.Statement,
					ScopeTier:        cand.ScopeTier,
					ScopeID:          cand.ScopeID,
					TopicKey:         cand.TopicKey,
					Tags:             []string{},
					Status:           model.StatusActive,
					SupersedesCardID: supersedeTarget,
					EvidenceRefIDs:   cand.EvidenceRefIDs,
				},
			},
			IdempotencyKey: fmt.Sprintf("card_admitted:%s:%s:%s", episodeID, cand.CandidateID, cardID),
			Producer:       producer,
		}); err != nil {
			return ConsolidateResult{}, err
		}
		res.Admitted++
		admittedByKind[cand.Kind]++
		admittedTotal++

		if supersedeTarget != "" {
			res.Superseded++
			fromStatus := cardStatusOr(ctx, s.db, supersedeTarget, model.StatusActive)
			if _, err := s.Append(ctx, AppendParams{
				EpisodeID: episodeID,
				EventType: model.EventCardSuperseded,
				Payload: cardSupersededPayload{
					SchemaVersion: model.SchemaVersion,
					CandidateID:   cand.CandidateID,
					OldCardID:     supersedeTarget,
					NewCardID:     cardID,
					FromStatus:    fromStatus,
					ReasonCode:    "normative_user_supersession",
				},
				IdempotencyKey: fmt.Sprintf("card_superseded:%s:%s:%s", episodeID, supersedeTarget, cardID),
				Producer:       producer,
			}); err != nil {
				return ConsolidateResult{}, err
			}
		}
	}

	ledger, err := s.Ledger(ctx, episodeID)
	if err != nil {
		return ConsolidateResult{}, err
	}
	res.Ledger = ledger
	return res, nil
}

// generateCandidates derives one candidate per non-empty evidence
// excerpt, classified into a kind by the configured classifier.
func (s *Store) generateCandidates(ctx context.Context, episodeID, scopeTier, scopeID string) ([]candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT evidence_ref_id, ref_kind, excerpt_text
		FROM evidence_refs
		WHERE episode_id = ?
		ORDER BY created_at, evidence_ref_id`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	idx := -1
	for rows.Next() {
		idx++
		var refID, refKind string
		var excerpt sql.NullString
		if err := rows.Scan(&refID, &refKind, &excerpt); err != nil {
			return nil, err
		}
		text := textutil.NormalizeStatement(excerpt.String, s.policy.MaxStatementLen)
		if text == "" {
			continue
		}

		kind := s.classifier.ClassifyKind(refKind, text)
		if !model.ValidKinds[kind] {
			kind = model.KindFact
		}

		out = append(out, candidate{
			CandidateID: canon.ID("cand",
				episodeID, fmt.Sprintf("%d", idx), kind,
				strings.ToLower(textutil.NormalizeStatement(text, s.policy.MaxStatementLen))),
			Kind:           kind,
			Statement:      text,
			ScopeTier:      scopeTier,
			ScopeID:        scopeID,
			TopicKey:       textutil.TopicKey(text),
			EvidenceRefIDs: []string{refID},
		})
	}
	return out, rows.Err()
}

// validateEvidenceInvariant checks the per-kind evidence anchor rules.
func (s *Store) validateEvidenceInvariant(ctx context.Context, cand candidate) (bool, string, error) {
	if len(cand.EvidenceRefIDs) == 0 {
		return false, "missing_evidence", nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cand.EvidenceRefIDs)), ",")
	args := make([]any, len(cand.EvidenceRefIDs))
	for i, id := range cand.EvidenceRefIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ref_kind FROM evidence_refs WHERE evidence_ref_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return false, "", err
	}
	defer rows.Close()

	kinds := map[string]bool{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return false, "", err
		}
		kinds[k] = true
	}
	if err := rows.Err(); err != nil {
		return false, "", err
	}

	switch cand.Kind {
	case model.KindPreference, model.KindConstraint, model.KindCommitment:
		if !kinds[model.RefUserSpan] {
			return false, "normative_requires_user_span", nil
		}
	case model.KindTactic:
		if !kinds[model.RefToolOutput] && !kinds[model.RefDocSpan] {
			return false, "tactic_requires_tool_or_doc", nil
		}
	case model.KindNegativeResult:
		if !kinds[model.RefToolOutput] {
			return false, "negative_result_requires_tool_output", nil
		}
		if !textutil.HasFailureSignal(strings.ToLower(cand.Statement)) {
			return false, "negative_result_requires_failure_signal", nil
		}
	case model.KindFact:
		if len(kinds) == 0 {
			return false, "fact_requires_anchor", nil
		}
	}
	return true, "ok", nil
}

// findBestSimilarityMatch scans live cards of the same kind and scope
// and returns the closest by the mean of lexical and token-cosine
// similarity.
func (s *Store) findBestSimilarityMatch(ctx context.Context, cand candidate) (*similarityMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT card_id, statement FROM cards
		WHERE kind = ? AND scope_tier = ? AND scope_id = ? AND status IN ('active', 'needs_recheck')`,
		cand.Kind, cand.ScopeTier, cand.ScopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var best *similarityMatch
	for rows.Next() {
		var cardID, statement string
		if err := rows.Scan(&cardID, &statement); err != nil {
			return nil, err
		}
		lex := textutil.Jaccard(cand.Statement, statement)
		cos := textutil.TokenCosine(cand.Statement, statement)
		score := (lex + cos) / 2
		if best == nil || score > best.Score {
			best = &similarityMatch{CardID: cardID, Lexical: lex, Cosine: cos, Score: score}
		}
	}
	return best, rows.Err()
}

func (s *Store) findExactMergeTarget(ctx context.Context, cand candidate) (string, error) {
	norm := strings.ToLower(textutil.NormalizeStatement(cand.Statement, s.policy.MaxStatementLen))
	rows, err := s.db.QueryContext(ctx, `
		SELECT card_id, statement FROM cards
		WHERE kind = ? AND scope_tier = ? AND scope_id = ? AND status IN ('active', 'needs_recheck')
		ORDER BY updated_event_id DESC, card_id ASC`,
		cand.Kind, cand.ScopeTier, cand.ScopeID)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	for rows.Next() {
		var cardID, statement string
		if err := rows.Scan(&cardID, &statement); err != nil {
			return "", err
		}
		if strings.ToLower(textutil.NormalizeStatement(statement, s.policy.MaxStatementLen)) == norm {
			return cardID, nil
		}
	}
	return "", rows.Err()
}

// findSupersedeTarget returns the most recently touched live normative
// card on the same topic, if any. Non-normative kinds never supersede.
func (s *Store) findSupersedeTarget(ctx context.Context, cand candidate) (string, error) {
	if !model.NormativeKinds[cand.Kind] {
		return "", nil
	}
	var cardID string
	err := s.db.QueryRowContext(ctx, `
		SELECT card_id FROM cards
		WHERE kind = ? AND scope_tier = ? AND scope_id = ? AND topic_key = ?
		  AND status IN ('active', 'needs_recheck')
		ORDER BY updated_event_id DESC, card_id ASC
		LIMIT 1`,
		cand.Kind, cand.ScopeTier, cand.ScopeID, cand.TopicKey).Scan(&cardID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return cardID, err
}

func (s *Store) appendReject(ctx context.Context, episodeID string, cand candidate, reason string, details map[string]any, producer string) error {
	_, err := s.Append(ctx, AppendParams{
		EpisodeID: episodeID,
		EventType: model.EventCardRejected,
		Payload: cardRejectedPayload{
			SchemaVersion: model.SchemaVersion,
			CandidateID:   cand.CandidateID,
			Kind:          cand.Kind,
			Statement:     cand.Statement,
			ReasonCode:    reason,
			Details:       details,
		},
		IdempotencyKey: fmt.Sprintf("card_rejected:%s:%s:%s", episodeID, cand.CandidateID, reason),
		Producer:       producer,
	})
	return err
}

func (s *Store) countEpisodeAdmittedByKind(ctx context.Context, episodeID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload_json FROM memory_events
		WHERE episode_id = ? AND event_type = 'card_admitted'`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for _, k := range model.Kinds {
		out[k] = 0
	}
	for rows.Next() {
		var payloadJSON string
		if err := rows.Scan(&payloadJSON); err != nil {
			return nil, err
		}
		var p cardAdmittedPayload
		if json.Unmarshal([]byte(payloadJSON), &p) == nil && p.Card.Kind != "" {
			out[p.Card.Kind]++
		}
	}
	return out, rows.Err()
}

// Ledger returns the consolidation ledger row for an episode.
func (s *Store) Ledger(ctx context.Context, episodeID string) (model.Ledger, error) {
	var l model.Ledger
	var breakdownJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT episode_id, proposed_count, admitted_count, rejected_count,
		       merged_count, superseded_count, archived_count,
		       reason_breakdown_json, computed_at
		FROM consolidation_ledger WHERE episode_id = ?`, episodeID).Scan(
		&l.EpisodeID, &l.ProposedCount, &l.AdmittedCount, &l.RejectedCount,
		&l.MergedCount, &l.SupersededCount, &l.ArchivedCount,
		&breakdownJSON, &l.ComputedAt)
	if err == sql.ErrNoRows {
		return model.Ledger{EpisodeID: episodeID, ReasonBreakdown: map[string]int{}}, nil
	}
	if err != nil {
		return model.Ledger{}, err
	}
	l.ReasonBreakdown = map[string]int{}
	if err := json.Unmarshal([]byte(breakdownJSON), &l.ReasonBreakdown); err != nil {
		return model.Ledger{}, err
	}
	return l, nil
}

func kindPriorityOr(kind string) int {
	if p, ok := model.KindPriority[kind]; ok {
		return p
	}
	return 99
}
