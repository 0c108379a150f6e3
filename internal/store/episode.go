package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tkwade/memdeck/internal/canon"
	"github.com/tkwade/memdeck/internal/model"
)

// EpisodeInput is the JSON shape accepted by the record operation.
// Omitted ids are allocated by the store; supplying the same ids and
// content twice is a no-op thanks to event idempotency keys.
type EpisodeInput struct {
	EpisodeID     string             `json:"episode_id"`
	UserText      string             `json:"user_text"`
	AssistantText string             `json:"assistant_text"`
	ModelName     string             `json:"model_name"`
	StartedAt     string             `json:"started_at"`
	EndedAt       string             `json:"ended_at"`
	Metadata      map[string]any     `json:"metadata"`
	Artifacts     []ArtifactInput    `json:"artifacts"`
	EvidenceRefs  []EvidenceRefInput `json:"evidence_refs"`
}

// ArtifactInput describes one artifact attached to an episode. Content
// may be inline or referenced by path; inline content is spilled to the
// artifacts directory next to the database.
type ArtifactInput struct {
	ArtifactID   string         `json:"artifact_id"`
	ArtifactKind string         `json:"artifact_kind"`
	MimeType     string         `json:"mime_type"`
	Content      string         `json:"content"`
	ContentPath  string         `json:"content_path"`
	Metadata     map[string]any `json:"metadata"`
}

// EvidenceRefInput pins a span of episode text or artifact content.
type EvidenceRefInput struct {
	EvidenceRefID string `json:"evidence_ref_id"`
	RefKind       string `json:"ref_kind"`
	ArtifactID    string `json:"artifact_id"`
	TargetID      string `json:"target_id"`
	StartOffset   *int   `json:"start_offset"`
	EndOffset     *int   `json:"end_offset"`
	LineStart     *int   `json:"line_start"`
	LineEnd       *int   `json:"line_end"`
	ExcerptText   string `json:"excerpt_text"`
}

// RecordResult summarizes a record operation.
type RecordResult struct {
	EpisodeID    string `json:"episode_id"`
	Artifacts    int    `json:"artifacts"`
	EvidenceRefs int    `json:"evidence_refs"`
}

// RecordEpisode ingests one episode with its artifacts and evidence
// refs, then appends a consolidation trigger. Everything happens in one
// transaction so a crash leaves either the full episode or nothing
// applied (partial event rows are repaired by Recover).
func (s *Store) RecordEpisode(ctx context.Context, in EpisodeInput, producer string) (RecordResult, error) {
	if in.EpisodeID == "" {
		in.EpisodeID = s.newID("ep")
	}
	if in.StartedAt == "" {
		in.StartedAt = nowISO()
	}
	if in.EndedAt == "" {
		in.EndedAt = nowISO()
	}
	if in.Metadata == nil {
		in.Metadata = map[string]any{}
	}

	canonPayload := map[string]any{
		"episode_id":     in.EpisodeID,
		"user_text":      in.UserText,
		"assistant_text": in.AssistantText,
		"model_name":     nullIfEmpty(in.ModelName),
		"metadata":       in.Metadata,
		"started_at":     in.StartedAt,
		"ended_at":       in.EndedAt,
	}
	canonJSON, err := canon.JSON(canonPayload)
	if err != nil {
		return RecordResult{}, err
	}
	payloadHash := canon.SHA256Hex(canonJSON)

	metaJSON, err := canon.JSON(in.Metadata)
	if err != nil {
		return RecordResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RecordResult{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO episodes (
		  episode_id, user_text, assistant_text, model_name, metadata_json,
		  payload_hash, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.EpisodeID, in.UserText, in.AssistantText, nullIfEmpty(in.ModelName),
		metaJSON, payloadHash, in.StartedAt, in.EndedAt); err != nil {
		return RecordResult{}, fmt.Errorf("insert episode: %w", err)
	}

	if _, err := s.appendTx(ctx, tx, AppendParams{
		EpisodeID: in.EpisodeID,
		EventType: model.EventEpisodeRecorded,
		Payload: episodeRecordedPayload{
			SchemaVersion: model.SchemaVersion,
			EpisodeID:     in.EpisodeID,
			PayloadHash:   payloadHash,
		},
		IdempotencyKey: fmt.Sprintf("episode_recorded:%s:%s", in.EpisodeID, payloadHash),
		Producer:       producer,
	}); err != nil {
		return RecordResult{}, err
	}

	for _, art := range in.Artifacts {
		if err := s.recordArtifactTx(ctx, tx, in.EpisodeID, art, producer); err != nil {
			return RecordResult{}, err
		}
	}

	for _, ref := range in.EvidenceRefs {
		if err := s.recordEvidenceRefTx(ctx, tx, in.EpisodeID, ref, producer); err != nil {
			return RecordResult{}, err
		}
	}

	if _, err := s.appendTx(ctx, tx, AppendParams{
		EpisodeID: in.EpisodeID,
		EventType: model.EventConsolidationTriggered,
		Payload: consolidationTriggeredPayload{
			SchemaVersion: model.SchemaVersion,
			EpisodeID:     in.EpisodeID,
			Trigger:       "post_episode_record",
		},
		IdempotencyKey: "consolidation_triggered:" + in.EpisodeID,
		Producer:       producer,
	}); err != nil {
		return RecordResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return RecordResult{}, err
	}
	return RecordResult{
		EpisodeID:    in.EpisodeID,
		Artifacts:    len(in.Artifacts),
		EvidenceRefs: len(in.EvidenceRefs),
	}, nil
}

func (s *Store) recordArtifactTx(ctx context.Context, tx *sql.Tx, episodeID string, art ArtifactInput, producer string) error {
	if art.ArtifactID == "" {
		art.ArtifactID = s.newID("art")
	}
	if art.ArtifactKind == "" {
		art.ArtifactKind = model.RefToolOutput
	}
	if art.MimeType == "" {
		art.MimeType = "text/plain"
	}
	if art.Metadata == nil {
		art.Metadata = map[string]any{}
	}

	contentPath := art.ContentPath
	if contentPath == "" {
		artDir := filepath.Join(filepath.Dir(s.path), "artifacts")
		if err := os.MkdirAll(artDir, 0o755); err != nil {
			return err
		}
		contentPath = filepath.Join(artDir, art.ArtifactID+".txt")
		if err := os.WriteFile(contentPath, []byte(art.Content), 0o644); err != nil {
			return err
		}
	} else if art.Content != "" {
		if _, err := os.Stat(contentPath); os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(contentPath), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(contentPath, []byte(art.Content), 0o644); err != nil {
				return err
			}
		}
	}

	contentHash := canon.SHA256Hex(art.Content)
	if art.Content == "" {
		if data, err := os.ReadFile(contentPath); err == nil {
			contentHash = canon.SHA256Hex(string(data))
		}
	}

	artMetaJSON, err := canon.JSON(art.Metadata)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO artifacts (
		  artifact_id, episode_id, artifact_kind, content_path,
		  content_hash, mime_type, metadata_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		art.ArtifactID, episodeID, art.ArtifactKind, contentPath,
		contentHash, art.MimeType, artMetaJSON); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}

	_, err = s.appendTx(ctx, tx, AppendParams{
		EpisodeID: episodeID,
		EventType: model.EventArtifactRecorded,
		Payload: artifactRecordedPayload{
			SchemaVersion: model.SchemaVersion,
			ArtifactID:    art.ArtifactID,
			ArtifactKind:  art.ArtifactKind,
			ContentHash:   contentHash,
		},
		IdempotencyKey: fmt.Sprintf("artifact_recorded:%s:%s:%s", episodeID, art.ArtifactID, contentHash),
		Producer:       producer,
	})
	return err
}

func (s *Store) recordEvidenceRefTx(ctx context.Context, tx *sql.Tx, episodeID string, ref EvidenceRefInput, producer string) error {
	if ref.EvidenceRefID == "" {
		ref.EvidenceRefID = s.newID("ev")
	}
	if ref.RefKind == "" {
		ref.RefKind = model.RefUserSpan
	}
	targetID := ref.TargetID
	if targetID == "" {
		if ref.ArtifactID != "" {
			targetID = ref.ArtifactID
		} else {
			targetID = "episode"
		}
	}

	excerpt := ref.ExcerptText
	if excerpt == "" {
		excerpt = s.extractEvidenceExcerpt(ctx, tx, episodeID, ref)
	}
	refHash := canon.SHA256Hex(excerpt)
	if excerpt == "" {
		refHash = canon.SHA256Hex(fmt.Sprintf("%s:%s:%s:%s:%s",
			targetID, intPtrStr(ref.StartOffset), intPtrStr(ref.EndOffset),
			intPtrStr(ref.LineStart), intPtrStr(ref.LineEnd)))
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO evidence_refs (
		  evidence_ref_id, episode_id, artifact_id, ref_kind, target_id,
		  start_offset, end_offset, line_start, line_end, excerpt_text, ref_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.EvidenceRefID, episodeID, nullIfEmpty(ref.ArtifactID), ref.RefKind, targetID,
		ref.StartOffset, ref.EndOffset, ref.LineStart, ref.LineEnd,
		nullIfEmpty(excerpt), refHash); err != nil {
		return fmt.Errorf("insert evidence ref: %w", err)
	}

	_, err := s.appendTx(ctx, tx, AppendParams{
		EpisodeID: episodeID,
		EventType: model.EventEvidenceRefRecorded,
		Payload: evidenceRefRecordedPayload{
			SchemaVersion: model.SchemaVersion,
			EvidenceRefID: ref.EvidenceRefID,
			RefKind:       ref.RefKind,
			RefHash:       refHash,
		},
		IdempotencyKey: fmt.Sprintf("evidence_ref_recorded:%s:%s:%s", episodeID, ref.EvidenceRefID, refHash),
		Producer:       producer,
	})
	return err
}

// extractEvidenceExcerpt pulls the referenced span out of the episode
// text or artifact content, capped at the statement length limit.
func (s *Store) extractEvidenceExcerpt(ctx context.Context, q execer, episodeID string, ref EvidenceRefInput) string {
	const maxExcerpt = 280

	if ref.RefKind == model.RefUserSpan {
		var userText string
		if err := q.QueryRowContext(ctx,
			`SELECT user_text FROM episodes WHERE episode_id = ?`, episodeID).Scan(&userText); err != nil {
			return ""
		}
		if ref.StartOffset != nil && ref.EndOffset != nil {
			return sliceString(userText, *ref.StartOffset, *ref.EndOffset)
		}
		return truncate(userText, maxExcerpt)
	}

	if ref.ArtifactID == "" {
		return ""
	}
	var contentPath sql.NullString
	if err := q.QueryRowContext(ctx,
		`SELECT content_path FROM artifacts WHERE artifact_id = ?`, ref.ArtifactID).Scan(&contentPath); err != nil {
		return ""
	}
	if !contentPath.Valid {
		return ""
	}
	data, err := os.ReadFile(contentPath.String)
	if err != nil {
		return ""
	}
	content := string(data)
	if ref.LineStart != nil && ref.LineEnd != nil {
		lines := strings.Split(content, "\n")
		start := *ref.LineStart
		if start < 1 {
			start = 1
		}
		end := *ref.LineEnd
		if end < start {
			end = start
		}
		if start > len(lines) {
			return ""
		}
		if end > len(lines) {
			end = len(lines)
		}
		return truncate(strings.Join(lines[start-1:end], "\n"), maxExcerpt)
	}
	if ref.StartOffset != nil && ref.EndOffset != nil {
		return sliceString(content, *ref.StartOffset, *ref.EndOffset)
	}
	return truncate(content, maxExcerpt)
}

func sliceString(s string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(s) {
		end = len(s)
	}
	if start >= end {
		return ""
	}
	return s[start:end]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func intPtrStr(v *int) string {
	if v == nil {
		return "None"
	}
	return fmt.Sprintf("%d", v)
}
