package store

// Typed event payloads. These are the wire shapes stored in
// memory_events.payload_json (after canonicalization) and decoded again
// by the reducers, so field tags are part of the log format.

type episodeRecordedPayload struct {
	SchemaVersion int    `json:"schema_version"`
	EpisodeID     string `json:"episode_id"`
	PayloadHash   string `json:"payload_hash"`
}

type artifactRecordedPayload struct {
	SchemaVersion int    `json:"schema_version"`
	ArtifactID    string `json:"artifact_id"`
	ArtifactKind  string `json:"artifact_kind"`
	ContentHash   string `json:"content_hash"`
}

type evidenceRefRecordedPayload struct {
	SchemaVersion int    `json:"schema_version"`
	EvidenceRefID string `json:"evidence_ref_id"`
	RefKind       string `json:"ref_kind"`
	RefHash       string `json:"ref_hash"`
}

type consolidationTriggeredPayload struct {
	SchemaVersion int    `json:"schema_version"`
	EpisodeID     string `json:"episode_id"`
	Trigger       string `json:"trigger"`
}

type candidateProposedPayload struct {
	SchemaVersion  int      `json:"schema_version"`
	CandidateID    string   `json:"candidate_id"`
	Kind           string   `json:"kind"`
	Statement      string   `json:"statement"`
	ScopeTier      string   `json:"scope_tier"`
	ScopeID        string   `json:"scope_id"`
	TopicKey       string   `json:"topic_key"`
	EvidenceRefIDs []string `json:"evidence_ref_ids"`
}

type cardPayload struct {
	CardID           string   `json:"card_id"`
	Kind             string   `json:"kind"`
	Statement        string   `json:"statement"`
	ScopeTier        string   `json:"scope_tier"`
	ScopeID          string   `json:"scope_id"`
	TopicKey         string   `json:"topic_key"`
	Tags             []string `json:"tags"`
	Status           string   `json:"status"`
	SupersedesCardID string   `json:"supersedes_card_id,omitempty"`
	EvidenceRefIDs   []string `json:"evidence_ref_ids"`
}

type cardAdmittedPayload struct {
	SchemaVersion int         `json:"schema_version"`
	CandidateID   string      `json:"candidate_id"`
	ReasonCode    string      `json:"reason_code"`
	Card          cardPayload `json:"card"`
}

type cardRejectedPayload struct {
	SchemaVersion int            `json:"schema_version"`
	CandidateID   string         `json:"candidate_id"`
	Kind          string         `json:"kind"`
	Statement     string         `json:"statement"`
	ReasonCode    string         `json:"reason_code"`
	Details       map[string]any `json:"details"`
}

type cardMergedPayload struct {
	SchemaVersion  int      `json:"schema_version"`
	CandidateID    string   `json:"candidate_id"`
	TargetCardID   string   `json:"target_card_id"`
	EvidenceRefIDs []string `json:"evidence_ref_ids"`
	ReasonCode     string   `json:"reason_code"`
}

type cardSupersededPayload struct {
	SchemaVersion int    `json:"schema_version"`
	CandidateID   string `json:"candidate_id"`
	OldCardID     string `json:"old_card_id"`
	NewCardID     string `json:"new_card_id"`
	FromStatus    string `json:"from_status"`
	ReasonCode    string `json:"reason_code"`
}

type cardArchivedPayload struct {
	SchemaVersion int    `json:"schema_version"`
	CardID        string `json:"card_id"`
	ReasonCode    string `json:"reason_code"`
}

type cardStatusChangedPayload struct {
	SchemaVersion int     `json:"schema_version"`
	CardID        string  `json:"card_id"`
	FromStatus    string  `json:"from_status"`
	ToStatus      string  `json:"to_status"`
	ReasonCode    string  `json:"reason_code"`
	DisputeMass   float64 `json:"dispute_mass,omitempty"`
	Threshold     float64 `json:"threshold,omitempty"`
}

type cardDeprecatedPayload struct {
	SchemaVersion int    `json:"schema_version"`
	CardID        string `json:"card_id"`
	ReasonCode    string `json:"reason_code"`
	EvidenceRefID string `json:"evidence_ref_id,omitempty"`
}

type cardPromotedPayload struct {
	SchemaVersion int    `json:"schema_version"`
	CardID        string `json:"card_id"`
	FromTier      string `json:"from_tier"`
	ToTier        string `json:"to_tier"`
	ScopeID       string `json:"scope_id"`
	ReasonCode    string `json:"reason_code"`
	EvidenceRefID string `json:"evidence_ref_id,omitempty"`
}

type disputeRecordedPayload struct {
	SchemaVersion int     `json:"schema_version"`
	DisputeID     string  `json:"dispute_id"`
	CardID        string  `json:"card_id"`
	EvidenceRefID string  `json:"evidence_ref_id"`
	Weight        float64 `json:"weight"`
}

type rankedSnapshotEntry struct {
	Rank       int             `json:"rank"`
	CardID     string          `json:"card_id"`
	Kind       string          `json:"kind"`
	ScoreTotal float64         `json:"score_total"`
	Components scoreComponents `json:"score_components"`
	Status     string          `json:"status"`
	TopicKey   string          `json:"topic_key"`
	Hop        int             `json:"hop,omitempty"`
}

type selectedSnapshotEntry struct {
	Rank           int      `json:"rank"`
	CardID         string   `json:"card_id"`
	Kind           string   `json:"kind"`
	ScoreTotal     float64  `json:"score_total"`
	Status         string   `json:"status"`
	TopicKey       string   `json:"topic_key"`
	EvidenceRefIDs []string `json:"evidence_ref_ids"`
}

type packSnapshotPayload struct {
	PackID           string                  `json:"pack_id"`
	Channel          string                  `json:"channel"`
	QueryText        string                  `json:"query_text"`
	PolicyVersion    string                  `json:"policy_version"`
	RankedCandidates []rankedSnapshotEntry   `json:"ranked_candidates"`
	SelectedCards    []selectedSnapshotEntry `json:"selected_cards"`
}

type exposureEntry struct {
	ExposureID   string  `json:"exposure_id"`
	CardID       string  `json:"card_id"`
	Channel      string  `json:"channel"`
	RankPosition int     `json:"rank_position"`
	ScoreTotal   float64 `json:"score_total"`
}

type exposureRecordedPayload struct {
	SchemaVersion int                 `json:"schema_version"`
	Channel       string              `json:"channel"`
	PackSnapshot  packSnapshotPayload `json:"pack_snapshot"`
	Exposures     []exposureEntry     `json:"exposures"`
}

type outcomeRecordedPayload struct {
	SchemaVersion  int            `json:"schema_version"`
	OutcomeType    string         `json:"outcome_type"`
	EvidenceRefIDs []string       `json:"evidence_ref_ids"`
	Metadata       map[string]any `json:"metadata_json"`
}
