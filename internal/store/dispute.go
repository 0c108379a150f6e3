package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tkwade/memdeck/internal/canon"
	"github.com/tkwade/memdeck/internal/model"
)

// DisputeResult reports the effect of one recorded dispute.
type DisputeResult struct {
	DisputeID     string  `json:"dispute_id"`
	Weight        float64 `json:"weight"`
	DisputeMass   float64 `json:"dispute_mass"`
	Threshold     float64 `json:"threshold"`
	StatusChanged bool    `json:"status_changed"`
}

// RecordDispute files contradicting evidence against a card. Crossing
// the scope-tier threshold moves an active card to needs_recheck.
// Normative kinds never change status from dispute mass alone; their
// lifecycle runs through supersession and explicit resolution.
func (s *Store) RecordDispute(ctx context.Context, episodeID, cardID, evidenceRefID, producer string) (DisputeResult, error) {
	var refKind string
	err := s.db.QueryRowContext(ctx,
		`SELECT ref_kind FROM evidence_refs WHERE evidence_ref_id = ?`, evidenceRefID).Scan(&refKind)
	if err == sql.ErrNoRows {
		return DisputeResult{}, fmt.Errorf("evidence ref not found: %s", evidenceRefID)
	}
	if err != nil {
		return DisputeResult{}, err
	}

	weight := s.policy.DisputeWeights[refKind]
	disputeID := canon.ID("disp", cardID, evidenceRefID)

	if _, err := s.Append(ctx, AppendParams{
		EpisodeID: episodeID,
		EventType: model.EventDisputeRecorded,
		Payload: disputeRecordedPayload{
			SchemaVersion: model.SchemaVersion,
			DisputeID:     disputeID,
			CardID:        cardID,
			EvidenceRefID: evidenceRefID,
			Weight:        weight,
		},
		IdempotencyKey: fmt.Sprintf("dispute_recorded:%s:%s", cardID, evidenceRefID),
		Producer:       producer,
	}); err != nil {
		return DisputeResult{}, err
	}

	var scopeTier, kind, status string
	err = s.db.QueryRowContext(ctx,
		`SELECT scope_tier, kind, status FROM cards WHERE card_id = ?`, cardID).Scan(&scopeTier, &kind, &status)
	if err == sql.ErrNoRows {
		return DisputeResult{DisputeID: disputeID, Weight: weight}, nil
	}
	if err != nil {
		return DisputeResult{}, err
	}

	var mass float64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(weight), 0.0) FROM disputes WHERE card_id = ?`, cardID).Scan(&mass); err != nil {
		return DisputeResult{}, err
	}

	threshold, ok := s.policy.DisputeThresholds[scopeTier]
	if !ok {
		threshold = s.policy.DisputeThresholds[model.TierGlobal]
	}

	res := DisputeResult{
		DisputeID:   disputeID,
		Weight:      weight,
		DisputeMass: mass,
		Threshold:   threshold,
	}
	if mass >= threshold && status == model.StatusActive && !model.NormativeKinds[kind] {
		res.StatusChanged = true
		if _, err := s.Append(ctx, AppendParams{
			EpisodeID: episodeID,
			EventType: model.EventCardStatusChanged,
			Payload: cardStatusChangedPayload{
				SchemaVersion: model.SchemaVersion,
				CardID:        cardID,
				FromStatus:    model.StatusActive,
				ToStatus:      model.StatusNeedsRecheck,
				ReasonCode:    "dispute_threshold_exceeded",
				DisputeMass:   mass,
				Threshold:     threshold,
			},
			IdempotencyKey: fmt.Sprintf("card_status_changed:%s:needs_recheck:%g", cardID, threshold),
			Producer:       producer,
		}); err != nil {
			return DisputeResult{}, err
		}
	}
	return res, nil
}

// Dispute resolutions.
const (
	ResolutionConfirm = "confirm"
	ResolutionRefute  = "refute"
)

// ResolveResult reports a dispute resolution.
type ResolveResult struct {
	CardID     string `json:"card_id"`
	Resolution string `json:"resolution"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

// ResolveDispute settles a disputed card with fresh evidence. Confirm
// restores needs_recheck to active; refute deprecates. Deprecation is
// only reachable through a resolving evidence ref, and refuting a
// normative card requires user-span evidence.
func (s *Store) ResolveDispute(ctx context.Context, episodeID, cardID, evidenceRefID, resolution, producer string) (ResolveResult, error) {
	if resolution != ResolutionConfirm && resolution != ResolutionRefute {
		return ResolveResult{}, fmt.Errorf("invalid resolution: %s", resolution)
	}
	if evidenceRefID == "" {
		return ResolveResult{}, fmt.Errorf("resolution requires an evidence ref")
	}
	var refKind string
	err := s.db.QueryRowContext(ctx,
		`SELECT ref_kind FROM evidence_refs WHERE evidence_ref_id = ?`, evidenceRefID).Scan(&refKind)
	if err == sql.ErrNoRows {
		return ResolveResult{}, fmt.Errorf("evidence ref not found: %s", evidenceRefID)
	}
	if err != nil {
		return ResolveResult{}, err
	}

	var kind, status string
	err = s.db.QueryRowContext(ctx,
		`SELECT kind, status FROM cards WHERE card_id = ?`, cardID).Scan(&kind, &status)
	if err == sql.ErrNoRows {
		return ResolveResult{}, fmt.Errorf("card not found: %s", cardID)
	}
	if err != nil {
		return ResolveResult{}, err
	}

	if resolution == ResolutionConfirm {
		if status != model.StatusNeedsRecheck {
			return ResolveResult{}, fmt.Errorf("card %s is %s, not needs_recheck", cardID, status)
		}
		if _, err := s.Append(ctx, AppendParams{
			EpisodeID: episodeID,
			EventType: model.EventCardStatusChanged,
			Payload: cardStatusChangedPayload{
				SchemaVersion: model.SchemaVersion,
				CardID:        cardID,
				FromStatus:    model.StatusNeedsRecheck,
				ToStatus:      model.StatusActive,
				ReasonCode:    "dispute_resolved_confirmed",
			},
			IdempotencyKey: fmt.Sprintf("dispute_resolved:%s:%s:confirm", cardID, evidenceRefID),
			Producer:       producer,
		}); err != nil {
			return ResolveResult{}, err
		}
		return ResolveResult{
			CardID: cardID, Resolution: resolution,
			FromStatus: model.StatusNeedsRecheck, ToStatus: model.StatusActive,
		}, nil
	}

	if model.NormativeKinds[kind] && refKind != model.RefUserSpan {
		return ResolveResult{}, fmt.Errorf("refuting a %s card requires user_span evidence", kind)
	}
	if status == model.StatusDeprecated || status == model.StatusArchived {
		return ResolveResult{}, fmt.Errorf("card %s is already %s", cardID, status)
	}
	if _, err := s.Append(ctx, AppendParams{
		EpisodeID: episodeID,
		EventType: model.EventCardDeprecated,
		Payload: cardDeprecatedPayload{
			SchemaVersion: model.SchemaVersion,
			CardID:        cardID,
			ReasonCode:    "dispute_resolved_refuted",
			EvidenceRefID: evidenceRefID,
		},
		IdempotencyKey: fmt.Sprintf("dispute_resolved:%s:%s:refute", cardID, evidenceRefID),
		Producer:       producer,
	}); err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{
		CardID: cardID, Resolution: resolution,
		FromStatus: status, ToStatus: model.StatusDeprecated,
	}, nil
}

// PromoteResult reports a tier promotion.
type PromoteResult struct {
	CardID   string `json:"card_id"`
	FromTier string `json:"from_tier"`
	ToTier   string `json:"to_tier"`
	ScopeID  string `json:"scope_id"`
	Reason   string `json:"reason_code"`
}

// PromoteCard widens a card's scope one tier. Repo cards reach domain
// on explicit user evidence or on wins observed in at least two
// distinct repo scopes; domain cards reach global only on user
// evidence.
func (s *Store) PromoteCard(ctx context.Context, episodeID, cardID, toScopeID, evidenceRefID, producer string) (PromoteResult, error) {
	var kind, status, fromTier string
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, status, scope_tier FROM cards WHERE card_id = ?`, cardID).Scan(&kind, &status, &fromTier)
	if err == sql.ErrNoRows {
		return PromoteResult{}, fmt.Errorf("card not found: %s", cardID)
	}
	if err != nil {
		return PromoteResult{}, err
	}
	if status != model.StatusActive {
		return PromoteResult{}, fmt.Errorf("only active cards promote, card %s is %s", cardID, status)
	}

	var toTier string
	switch fromTier {
	case model.TierRepo:
		toTier = model.TierDomain
	case model.TierDomain:
		toTier = model.TierGlobal
	default:
		return PromoteResult{}, fmt.Errorf("card %s is already global", cardID)
	}

	userEvidence := false
	if evidenceRefID != "" {
		var refKind string
		err := s.db.QueryRowContext(ctx,
			`SELECT ref_kind FROM evidence_refs WHERE evidence_ref_id = ?`, evidenceRefID).Scan(&refKind)
		if err == sql.ErrNoRows {
			return PromoteResult{}, fmt.Errorf("evidence ref not found: %s", evidenceRefID)
		}
		if err != nil {
			return PromoteResult{}, err
		}
		userEvidence = refKind == model.RefUserSpan
	}

	reason := "user_promotion"
	if !userEvidence {
		if toTier == model.TierGlobal {
			return PromoteResult{}, fmt.Errorf("promotion to global requires user_span evidence")
		}
		scopes, err := s.winScopes(ctx, cardID)
		if err != nil {
			return PromoteResult{}, err
		}
		if len(scopes) < 2 {
			return PromoteResult{}, fmt.Errorf("promotion needs user evidence or wins in 2+ repo scopes, have %d", len(scopes))
		}
		reason = "cross_scope_wins"
	}

	if _, err := s.Append(ctx, AppendParams{
		EpisodeID: episodeID,
		EventType: model.EventCardPromoted,
		Payload: cardPromotedPayload{
			SchemaVersion: model.SchemaVersion,
			CardID:        cardID,
			FromTier:      fromTier,
			ToTier:        toTier,
			ScopeID:       toScopeID,
			ReasonCode:    reason,
			EvidenceRefID: evidenceRefID,
		},
		IdempotencyKey: fmt.Sprintf("card_promoted:%s:%s:%s", cardID, fromTier, toTier),
		Producer:       producer,
	}); err != nil {
		return PromoteResult{}, err
	}
	return PromoteResult{
		CardID: cardID, FromTier: fromTier, ToTier: toTier,
		ScopeID: toScopeID, Reason: reason,
	}, nil
}

// winScopes lists the distinct repo scope ids of episodes where the
// card was exposed on the ambient channel and a success outcome landed.
func (s *Store) winScopes(ctx context.Context, cardID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ep.metadata_json
		FROM exposures e
		JOIN episodes ep ON ep.episode_id = e.episode_id
		WHERE e.card_id = ? AND e.channel = 'auto_pack'
		  AND EXISTS (
		    SELECT 1 FROM outcomes o
		    WHERE o.episode_id = e.episode_id
		      AND o.outcome_type IN ('tool_success', 'user_confirmed_helpful')
		      AND o.evidence_ref_ids_json != '[]'
		  )`, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scopes := map[string]bool{}
	for rows.Next() {
		var metadataJSON string
		if err := rows.Scan(&metadataJSON); err != nil {
			return nil, err
		}
		var meta map[string]any
		if json.Unmarshal([]byte(metadataJSON), &meta) != nil {
			continue
		}
		tier, _ := meta["scope_tier"].(string)
		if tier != "" && tier != model.TierRepo {
			continue
		}
		scopeID, _ := meta["scope_id"].(string)
		if scopeID == "" {
			scopeID = "default"
		}
		scopes[scopeID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(scopes))
	for id := range scopes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
