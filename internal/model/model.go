// Package model defines the core memory data types and vocabularies.
package model

import "time"

// Card kinds.
const (
	KindPreference     = "preference"
	KindConstraint     = "constraint"
	KindCommitment     = "commitment"
	KindFact           = "fact"
	KindTactic         = "tactic"
	KindNegativeResult = "negative_result"
)

// Kinds lists every card kind in declaration order.
var Kinds = []string{
	KindPreference,
	KindConstraint,
	KindCommitment,
	KindFact,
	KindTactic,
	KindNegativeResult,
}

// ValidKinds are the allowed card kinds.
var ValidKinds = map[string]bool{
	KindPreference:     true,
	KindConstraint:     true,
	KindCommitment:     true,
	KindFact:           true,
	KindTactic:         true,
	KindNegativeResult: true,
}

// NormativeKinds change status only via explicit user supersession,
// never via dispute mass.
var NormativeKinds = map[string]bool{
	KindPreference: true,
	KindConstraint: true,
	KindCommitment: true,
}

// KindPriority orders candidates and breaks ranking ties. Lower wins.
var KindPriority = map[string]int{
	KindConstraint:     0,
	KindCommitment:     1,
	KindPreference:     2,
	KindNegativeResult: 3,
	KindTactic:         4,
	KindFact:           5,
}

// Card statuses.
const (
	StatusActive       = "active"
	StatusNeedsRecheck = "needs_recheck"
	StatusDeprecated   = "deprecated"
	StatusArchived     = "archived"
)

// ValidStatuses are the allowed card statuses.
var ValidStatuses = map[string]bool{
	StatusActive:       true,
	StatusNeedsRecheck: true,
	StatusDeprecated:   true,
	StatusArchived:     true,
}

// Scope tiers, broadest last.
const (
	TierRepo   = "repo"
	TierDomain = "domain"
	TierGlobal = "global"
)

// ValidTiers are the allowed scope tiers.
var ValidTiers = map[string]bool{
	TierRepo:   true,
	TierDomain: true,
	TierGlobal: true,
}

// TierRank orders tiers by specificity. Higher is more specific.
var TierRank = map[string]int{
	TierRepo:   3,
	TierDomain: 2,
	TierGlobal: 1,
}

// Evidence ref kinds.
const (
	RefUserSpan   = "user_span"
	RefToolOutput = "tool_output"
	RefDocSpan    = "doc_span"
)

// ValidRefKinds are the allowed evidence ref kinds.
var ValidRefKinds = map[string]bool{
	RefUserSpan:   true,
	RefToolOutput: true,
	RefDocSpan:    true,
}

// Retrieval channels.
const (
	ChannelAutoPack     = "auto_pack"
	ChannelSearch       = "search"
	ChannelExplicitRead = "explicit_read"
	ChannelCheck        = "check"
)

// ValidChannels are the allowed retrieval channels.
var ValidChannels = map[string]bool{
	ChannelAutoPack:     true,
	ChannelSearch:       true,
	ChannelExplicitRead: true,
	ChannelCheck:        true,
}

// Terminal outcome types.
const (
	OutcomeToolSuccess      = "tool_success"
	OutcomeToolFailure      = "tool_failure"
	OutcomeConfirmedHelpful = "user_confirmed_helpful"
	OutcomeUserCorrected    = "user_corrected"
)

// TerminalOutcomes are the outcome types that close an episode's
// attribution window.
var TerminalOutcomes = map[string]bool{
	OutcomeToolSuccess:      true,
	OutcomeToolFailure:      true,
	OutcomeConfirmedHelpful: true,
	OutcomeUserCorrected:    true,
}

// Event types. The set is closed: append rejects anything else.
const (
	EventEpisodeRecorded        = "episode_recorded"
	EventArtifactRecorded       = "artifact_recorded"
	EventEvidenceRefRecorded    = "evidence_ref_recorded"
	EventConsolidationTriggered = "consolidation_triggered"
	EventCandidateProposed      = "candidate_proposed"
	EventCardAdmitted           = "card_admitted"
	EventCardRejected           = "card_rejected"
	EventCardMerged             = "card_merged"
	EventCardSuperseded         = "card_superseded"
	EventCardArchived           = "card_archived"
	EventCardStatusChanged      = "card_status_changed"
	EventCardDeprecated         = "card_deprecated"
	EventCardPromoted           = "card_promoted"
	EventDisputeRecorded        = "dispute_recorded"
	EventExposureRecorded       = "exposure_recorded"
	EventOutcomeRecorded        = "outcome_recorded"
)

// ValidEventTypes is the closed set of appendable event types.
var ValidEventTypes = map[string]bool{
	EventEpisodeRecorded:        true,
	EventArtifactRecorded:       true,
	EventEvidenceRefRecorded:    true,
	EventConsolidationTriggered: true,
	EventCandidateProposed:      true,
	EventCardAdmitted:           true,
	EventCardRejected:           true,
	EventCardMerged:             true,
	EventCardSuperseded:         true,
	EventCardArchived:           true,
	EventCardStatusChanged:      true,
	EventCardDeprecated:         true,
	EventCardPromoted:           true,
	EventDisputeRecorded:        true,
	EventExposureRecorded:       true,
	EventOutcomeRecorded:        true,
}

// SchemaVersion tags event payloads; RuleVersion tags the policy code
// that produced them.
const (
	SchemaVersion = 1
	RuleVersion   = "v1"
)

// Episode is one recorded interaction unit. Immutable once appended.
type Episode struct {
	EpisodeID     string    `json:"episode_id"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	ModelName     string    `json:"model_name,omitempty"`
	Metadata      string    `json:"metadata_json"`
	PayloadHash   string    `json:"payload_hash"`
	StartedAt     string    `json:"started_at"`
	EndedAt       string    `json:"ended_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Artifact is a stored tool-output or document blob tied to an episode.
type Artifact struct {
	ArtifactID   string `json:"artifact_id"`
	EpisodeID    string `json:"episode_id"`
	ArtifactKind string `json:"artifact_kind"`
	ContentPath  string `json:"content_path"`
	ContentHash  string `json:"content_hash"`
	MimeType     string `json:"mime_type,omitempty"`
	Metadata     string `json:"metadata_json"`
}

// EvidenceRef anchors a card to a span of user text, tool output, or a
// document.
type EvidenceRef struct {
	EvidenceRefID string `json:"evidence_ref_id"`
	EpisodeID     string `json:"episode_id"`
	ArtifactID    string `json:"artifact_id,omitempty"`
	RefKind       string `json:"ref_kind"`
	TargetID      string `json:"target_id"`
	StartOffset   *int   `json:"start_offset,omitempty"`
	EndOffset     *int   `json:"end_offset,omitempty"`
	LineStart     *int   `json:"line_start,omitempty"`
	LineEnd       *int   `json:"line_end,omitempty"`
	ExcerptText   string `json:"excerpt_text,omitempty"`
	RefHash       string `json:"ref_hash"`
}

// MemoryEvent is the only writable unit of the system.
type MemoryEvent struct {
	EventID        int64  `json:"event_id"`
	EpisodeID      string `json:"episode_id"`
	SeqNo          int    `json:"seq_no"`
	EventType      string `json:"event_type"`
	PayloadJSON    string `json:"payload"`
	PayloadHash    string `json:"payload_hash"`
	IdempotencyKey string `json:"idempotency_key"`
	Producer       string `json:"producer"`
	RuleVersion    string `json:"rule_version"`
	CreatedAt      string `json:"created_at"`
}

// Card is a projected unit of retrievable memory. Cards exist only as
// reducer output; there is no direct write path.
type Card struct {
	CardID           string `json:"card_id"`
	Kind             string `json:"kind"`
	Statement        string `json:"statement"`
	ScopeTier        string `json:"scope_tier"`
	ScopeID          string `json:"scope_id"`
	TopicKey         string `json:"topic_key"`
	TagsJSON         string `json:"tags_json"`
	Status           string `json:"status"`
	SupersedesCardID string `json:"supersedes_card_id,omitempty"`
	CreatedEventID   int64  `json:"created_event_id"`
	UpdatedEventID   int64  `json:"updated_event_id"`
	ArchivedAt       string `json:"archived_at,omitempty"`
}

// Candidate is a classifier-proposed card awaiting the consolidation
// gates. Untrusted input.
type Candidate struct {
	CandidateID    string   `json:"candidate_id"`
	Kind           string   `json:"kind"`
	Statement      string   `json:"statement"`
	ScopeTier      string   `json:"scope_tier"`
	ScopeID        string   `json:"scope_id"`
	TopicKey       string   `json:"topic_key"`
	EvidenceRefIDs []string `json:"evidence_ref_ids"`
}

// Ledger is the per-episode consolidation summary.
type Ledger struct {
	EpisodeID       string         `json:"episode_id"`
	ProposedCount   int            `json:"proposed_count"`
	AdmittedCount   int            `json:"admitted_count"`
	RejectedCount   int            `json:"rejected_count"`
	MergedCount     int            `json:"merged_count"`
	SupersededCount int            `json:"superseded_count"`
	ArchivedCount   int            `json:"archived_count"`
	ReasonBreakdown map[string]int `json:"reason_breakdown"`
	ComputedAt      string         `json:"computed_at"`
}

// Dispute is one weighted contradiction against a card.
type Dispute struct {
	DisputeID     string  `json:"dispute_id"`
	CardID        string  `json:"card_id"`
	EvidenceRefID string  `json:"evidence_ref_id"`
	Weight        float64 `json:"weight"`
	EventID       int64   `json:"event_id"`
}

// Exposure records that a card was shown in a pack.
type Exposure struct {
	ExposureID    string  `json:"exposure_id"`
	EpisodeID     string  `json:"episode_id"`
	PackID        string  `json:"pack_id"`
	CardID        string  `json:"card_id"`
	Channel       string  `json:"channel"`
	RankPosition  int     `json:"rank_position"`
	ScoreTotal    float64 `json:"score_total"`
	SourceEventID int64   `json:"source_event_id"`
}

// UtilityStats holds per-tactic-card outcome counters.
type UtilityStats struct {
	CardID         string `json:"card_id"`
	Wins           int    `json:"wins"`
	Losses         int    `json:"losses"`
	Reuse          int    `json:"reuse"`
	UpdatedEventID int64  `json:"updated_event_id"`
}

// StatusTransition is one row of the card status history log.
type StatusTransition struct {
	CardID     string `json:"card_id"`
	EventID    int64  `json:"event_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ReasonCode string `json:"reason_code"`
	CreatedAt  string `json:"created_at"`
}
