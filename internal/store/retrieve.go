package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"

	"github.com/tkwade/memdeck/internal/embedding"
	"github.com/tkwade/memdeck/internal/model"
	"github.com/tkwade/memdeck/internal/policy"
	"github.com/tkwade/memdeck/internal/textutil"
)

type scoreComponents struct {
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
	Scope    float64 `json:"scope"`
	Kind     float64 `json:"kind_prior"`
	Truth    float64 `json:"truth"`
	Utility  float64 `json:"utility"`
	Recency  float64 `json:"recency"`
}

// ScoredCard is one retrieval result with its score breakdown.
type ScoredCard struct {
	CardID         string          `json:"card_id"`
	Kind           string          `json:"kind"`
	Statement      string          `json:"statement"`
	ScopeTier      string          `json:"scope_tier"`
	ScopeID        string          `json:"scope_id"`
	TopicKey       string          `json:"topic_key"`
	Status         string          `json:"status"`
	ScoreTotal     float64         `json:"score_total"`
	Components     scoreComponents `json:"score_components"`
	UpdatedEventID int64           `json:"updated_event_id"`
	// Hop is 0 for directly retrieved cards and >0 for cards pulled
	// in by associative expansion.
	Hop int `json:"hop,omitempty"`
}

// RetrieveParams configures one retrieval pass. Channel selects the
// status filter and weighting mode.
type RetrieveParams struct {
	Query           string
	EpisodeID       string
	IncludeArchived bool
	Limit           int
	Channel         string
}

// Retrieve scores every eligible card against the query and returns
// the top results in deterministic order.
func (s *Store) Retrieve(ctx context.Context, p RetrieveParams) ([]ScoredCard, error) {
	if p.Limit <= 0 {
		p.Limit = s.policy.Pack.CandidateLimit
	}
	if p.Channel == "" {
		p.Channel = model.ChannelSearch
	}

	scopeTier, scopeID := model.TierRepo, "default"
	if p.EpisodeID != "" {
		scopeTier, scopeID = s.episodeScope(ctx, p.EpisodeID)
	}

	statusClause := `status IN ('active', 'needs_recheck')`
	if p.IncludeArchived || p.Channel != model.ChannelAutoPack {
		statusClause = `status IN ('active', 'needs_recheck', 'deprecated', 'archived')`
	}

	var maxEventID int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(event_id), 1) FROM memory_events`).Scan(&maxEventID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.card_id, c.kind, c.statement, c.scope_tier, c.scope_id, c.topic_key,
		       c.status, c.updated_event_id,
		       COALESCE(u.wins, 0), COALESCE(u.losses, 0), COALESCE(u.reuse, 0),
		       COALESCE(ce.embedding_model, ''), COALESCE(ce.embedding_vector, '[]')
		FROM cards c
		LEFT JOIN utility_stats u ON u.card_id = c.card_id
		LEFT JOIN card_embeddings ce ON ce.card_id = c.card_id
		WHERE `+statusClause)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Query vectors are derived per stored model so scores stay
	// comparable mid-migration.
	queryVecs := map[string]embedding.Vector{}
	queryVec := func(ctx context.Context, modelName string) (embedding.Vector, error) {
		if modelName == "" {
			modelName = s.emb.Model()
		}
		if v, ok := queryVecs[modelName]; ok {
			return v, nil
		}
		emb := s.emb
		if emb.Model() != modelName {
			emb = embedding.ForModel(modelName, s.policy.Embedding.Dims)
		}
		v, err := emb.Embed(ctx, p.Query)
		if err != nil {
			return nil, err
		}
		queryVecs[modelName] = v
		return v, nil
	}

	var out []ScoredCard
	for rows.Next() {
		var c ScoredCard
		var wins, losses, reuse int
		var embModel, embJSON string
		if err := rows.Scan(&c.CardID, &c.Kind, &c.Statement, &c.ScopeTier, &c.ScopeID,
			&c.TopicKey, &c.Status, &c.UpdatedEventID, &wins, &losses, &reuse,
			&embModel, &embJSON); err != nil {
			return nil, err
		}

		lexical := textutil.Jaccard(p.Query, c.Statement)

		var cardVec embedding.Vector
		_ = json.Unmarshal([]byte(embJSON), &cardVec)
		qv, err := queryVec(ctx, embModel)
		if err != nil {
			return nil, err
		}
		semantic := embedding.Cosine(qv, cardVec)

		scope := scopeScore(scopeTier, scopeID, c.ScopeTier, c.ScopeID)
		kindPrior := kindPriorScore(c.Kind)
		truth := statusWeight(c.Status, p.Channel)

		utility := 0.0
		if c.Kind == model.KindTactic {
			denom := float64(wins + losses)
			if denom < 1 {
				denom = 1
			}
			utility = float64(wins-losses)/denom + math.Min(1.0, float64(reuse)/10.0)
		}

		recency := float64(c.UpdatedEventID) / float64(maxEventID)

		w := s.policy.Scoring
		total := w.Lexical*lexical +
			w.Semantic*semantic +
			w.Scope*scope +
			w.Kind*kindPrior +
			w.Status*truth +
			w.Utility*utility +
			w.Recency*recency
		if p.Channel == model.ChannelAutoPack && c.Status == model.StatusNeedsRecheck {
			total *= w.RecheckMultiplier
		}

		c.ScoreTotal = round6(total)
		c.Components = scoreComponents{
			Lexical:  round6(lexical),
			Semantic: round6(semantic),
			Scope:    round6(scope),
			Kind:     round6(kindPrior),
			Truth:    round6(truth),
			Utility:  round6(utility),
			Recency:  round6(recency),
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ScoreTotal != b.ScoreTotal {
			return a.ScoreTotal > b.ScoreTotal
		}
		if pa, pb := kindPriorityOr(a.Kind), kindPriorityOr(b.Kind); pa != pb {
			return pa < pb
		}
		if a.UpdatedEventID != b.UpdatedEventID {
			return a.UpdatedEventID > b.UpdatedEventID
		}
		return a.CardID < b.CardID
	})
	if len(out) > p.Limit {
		out = out[:p.Limit]
	}

	if s.policy.Expansion.Enabled && len(out) > 0 {
		expanded, err := s.expandAssociative(ctx, out)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
		if len(out) > p.Limit {
			out = out[:p.Limit]
		}
	}
	return out, nil
}

// expandAssociative walks embedding-space neighbors of the top base
// results. Expansion never reorders the base list; hops are appended
// after it, ordered by hop count then score then card id, and each hop
// decays the carried score.
func (s *Store) expandAssociative(ctx context.Context, base []ScoredCard) ([]ScoredCard, error) {
	cfg := s.policy.Expansion
	maxHops := cfg.MaxHops
	if maxHops > policy.HopCeiling {
		maxHops = policy.HopCeiling
	}

	seen := map[string]bool{}
	for _, c := range base {
		seen[c.CardID] = true
	}

	frontier := base
	if len(frontier) > cfg.Seeds {
		frontier = frontier[:cfg.Seeds]
	}

	var expanded []ScoredCard
	for hop := 1; hop <= maxHops; hop++ {
		var next []ScoredCard
		for _, seed := range frontier {
			neighbors, err := s.embeddingNeighbors(ctx, seed, hop, seen)
			if err != nil {
				return nil, err
			}
			next = append(next, neighbors...)
		}
		sort.Slice(next, func(i, j int) bool {
			if next[i].ScoreTotal != next[j].ScoreTotal {
				return next[i].ScoreTotal > next[j].ScoreTotal
			}
			return next[i].CardID < next[j].CardID
		})
		if len(next) > cfg.BeamWidth {
			next = next[:cfg.BeamWidth]
		}
		for _, c := range next {
			seen[c.CardID] = true
		}
		expanded = append(expanded, next...)
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}

	sort.Slice(expanded, func(i, j int) bool {
		if expanded[i].Hop != expanded[j].Hop {
			return expanded[i].Hop < expanded[j].Hop
		}
		if expanded[i].ScoreTotal != expanded[j].ScoreTotal {
			return expanded[i].ScoreTotal > expanded[j].ScoreTotal
		}
		return expanded[i].CardID < expanded[j].CardID
	})
	return expanded, nil
}

func (s *Store) embeddingNeighbors(ctx context.Context, seed ScoredCard, hop int, seen map[string]bool) ([]ScoredCard, error) {
	var seedJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding_vector FROM card_embeddings WHERE card_id = ?`,
		seed.CardID).Scan(&seedJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var seedVec embedding.Vector
	if json.Unmarshal([]byte(seedJSON), &seedVec) != nil {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.card_id, c.kind, c.statement, c.scope_tier, c.scope_id, c.topic_key,
		       c.status, c.updated_event_id, ce.embedding_vector
		FROM cards c
		JOIN card_embeddings ce ON ce.card_id = c.card_id
		WHERE c.status IN ('active', 'needs_recheck')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	decay := math.Pow(s.policy.Expansion.HopDecay, float64(hop))
	var out []ScoredCard
	for rows.Next() {
		var c ScoredCard
		var vecJSON string
		if err := rows.Scan(&c.CardID, &c.Kind, &c.Statement, &c.ScopeTier, &c.ScopeID,
			&c.TopicKey, &c.Status, &c.UpdatedEventID, &vecJSON); err != nil {
			return nil, err
		}
		if seen[c.CardID] {
			continue
		}
		var vec embedding.Vector
		if json.Unmarshal([]byte(vecJSON), &vec) != nil {
			continue
		}
		sim := embedding.Cosine(seedVec, vec)
		if sim < s.policy.Expansion.MinSimilarity {
			continue
		}
		c.Hop = hop
		c.ScoreTotal = round6(seed.ScoreTotal * decay * sim)
		c.Components = scoreComponents{Semantic: round6(sim)}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) episodeScope(ctx context.Context, episodeID string) (string, string) {
	var metadataJSON string
	if err := s.db.QueryRowContext(ctx,
		`SELECT metadata_json FROM episodes WHERE episode_id = ?`, episodeID).Scan(&metadataJSON); err != nil {
		return model.TierRepo, "default"
	}
	tier, id := model.TierRepo, "default"
	var meta map[string]any
	if json.Unmarshal([]byte(metadataJSON), &meta) == nil {
		if v, ok := meta["scope_tier"].(string); ok && v != "" {
			tier = v
		}
		if v, ok := meta["scope_id"].(string); ok && v != "" {
			id = v
		}
	}
	return tier, id
}

// scopeScore rewards matching the episode's scope and penalizes cards
// more specific than the desired tier.
func scopeScore(desiredTier, desiredScopeID, cardTier, cardScopeID string) float64 {
	if desiredTier == cardTier && desiredScopeID == cardScopeID {
		return 1.0
	}
	if model.TierRank[cardTier] > model.TierRank[desiredTier] {
		return 0.2
	}
	if cardTier == desiredTier {
		return 0.8
	}
	if cardTier == model.TierGlobal {
		return 0.6
	}
	if cardTier == model.TierDomain {
		return 0.7
	}
	return 0.5
}

func kindPriorScore(kind string) float64 {
	switch kind {
	case model.KindConstraint:
		return 1.0
	case model.KindCommitment:
		return 0.9
	case model.KindNegativeResult:
		return 0.85
	case model.KindPreference, model.KindTactic:
		return 0.8
	case model.KindFact:
		return 0.75
	}
	return 0.5
}

func statusWeight(status, channel string) float64 {
	if channel == model.ChannelAutoPack {
		switch status {
		case model.StatusActive:
			return 1.0
		case model.StatusNeedsRecheck:
			return 0.35
		case model.StatusDeprecated:
			return 0.15
		}
		return 0.1
	}
	switch status {
	case model.StatusActive:
		return 1.0
	case model.StatusNeedsRecheck:
		return 0.8
	case model.StatusDeprecated:
		return 0.65
	case model.StatusArchived:
		return 0.6
	}
	return 0.5
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
