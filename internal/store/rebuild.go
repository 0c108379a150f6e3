package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tkwade/memdeck/internal/canon"
	"github.com/tkwade/memdeck/internal/embedding"
	"github.com/tkwade/memdeck/internal/model"
)

// projectionTables maps each digestable projection to its stable sort
// order. cards_fts is excluded: it mirrors cards and has no rowids of
// its own worth hashing.
var projectionTables = []struct {
	name    string
	orderBy string
}{
	{"cards", "card_id"},
	{"card_evidence_refs", "card_id, evidence_ref_id"},
	{"consolidation_decisions", "decision_id"},
	{"consolidation_ledger", "episode_id"},
	{"card_embeddings", "card_id"},
	{"pack_snapshots", "pack_id"},
	{"exposures", "exposure_id"},
	{"disputes", "dispute_id"},
	{"card_status_history", "card_id, event_id"},
	{"outcomes", "event_id"},
	{"utility_stats", "card_id"},
}

// volatileColumns are autoincrement ids excluded from the digest so a
// replay that reassigns them still hashes identically.
var volatileColumns = map[string]map[string]bool{
	"consolidation_decisions": {"decision_id": true},
}

// ReplayResult reports one replay pass.
type ReplayResult struct {
	EventsReplayed int `json:"events_replayed"`
}

// Replay drops every projection table and re-folds the full event log
// in event order, in one transaction.
func (s *Store) Replay(ctx context.Context) (ReplayResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ReplayResult{}, err
	}
	defer tx.Rollback()

	clears := []string{
		"exposures", "pack_snapshots", "disputes", "card_status_history",
		"utility_stats", "outcomes", "card_evidence_refs", "card_embeddings",
		"cards_fts", "consolidation_decisions", "consolidation_ledger", "cards",
	}
	for _, table := range clears {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return ReplayResult{}, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, episode_id, event_type, payload_json, created_at
		FROM memory_events ORDER BY event_id`)
	if err != nil {
		return ReplayResult{}, err
	}
	type event struct {
		eventID   int64
		episodeID string
		eventType string
		payload   string
		createdAt string
	}
	var events []event
	for rows.Next() {
		var e event
		if err := rows.Scan(&e.eventID, &e.episodeID, &e.eventType, &e.payload, &e.createdAt); err != nil {
			rows.Close()
			return ReplayResult{}, err
		}
		events = append(events, e)
	}
	if err := rows.Close(); err != nil {
		return ReplayResult{}, err
	}

	for _, e := range events {
		if err := s.applyEvent(ctx, tx, e.eventID, e.episodeID, e.eventType, e.payload, e.createdAt); err != nil {
			return ReplayResult{}, fmt.Errorf("replay event %d (%s): %w", e.eventID, e.eventType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ReplayResult{}, err
	}
	return ReplayResult{EventsReplayed: len(events)}, nil
}

// ProjectionDigest hashes every projection table in a fixed order with
// volatile autoincrement columns excluded. Two stores folded from the
// same log produce the same digest.
func (s *Store) ProjectionDigest(ctx context.Context) (string, error) {
	payload := map[string]any{}
	for _, t := range projectionTables {
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf("SELECT * FROM %s ORDER BY %s", t.name, t.orderBy))
		if err != nil {
			return "", err
		}
		cleaned, err := scanGenericRows(rows, volatileColumns[t.name])
		rows.Close()
		if err != nil {
			return "", err
		}
		payload[t.name] = cleaned
	}
	js, err := canon.JSON(payload)
	if err != nil {
		return "", err
	}
	return canon.SHA256Hex(js), nil
}

// scanGenericRows reads every row into column-name keyed maps,
// rendering all values as strings (or null) for a stable hash.
func scanGenericRows(rows *sql.Rows, skip map[string]bool) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := map[string]any{}
		for i, col := range cols {
			if skip[col] {
				continue
			}
			if vals[i].Valid {
				row[col] = vals[i].String
			} else {
				row[col] = nil
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SnapshotCounts returns per-projection row counts.
func (s *Store) SnapshotCounts(ctx context.Context) (map[string]int, error) {
	tables := []string{
		"cards", "card_evidence_refs", "consolidation_decisions",
		"consolidation_ledger", "cards_fts", "card_embeddings",
		"pack_snapshots", "exposures", "disputes", "card_status_history",
		"outcomes", "utility_stats",
	}
	out := map[string]int{}
	for _, table := range tables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, err
		}
		out[table] = n
	}
	return out, nil
}

// RebuildVerification holds the optional stability check of a rebuild.
type RebuildVerification struct {
	Verified            *bool  `json:"verified"`
	PostRebuildDigest   string `json:"post_rebuild_digest"`
	SecondRebuildDigest string `json:"second_rebuild_digest,omitempty"`
}

// RebuildResult reports a full rebuild.
type RebuildResult struct {
	Replay        ReplayResult        `json:"replay"`
	BeforeCounts  map[string]int      `json:"before_counts"`
	AfterCounts   map[string]int      `json:"after_counts"`
	DigestChanged bool                `json:"digest_changed"`
	Verification  RebuildVerification `json:"verification"`
}

// FullRebuild replays the log and reports projection drift. With
// verifyStability it replays twice and checks the digests agree.
func (s *Store) FullRebuild(ctx context.Context, verifyStability bool) (RebuildResult, error) {
	beforeCounts, err := s.SnapshotCounts(ctx)
	if err != nil {
		return RebuildResult{}, err
	}
	beforeDigest, err := s.ProjectionDigest(ctx)
	if err != nil {
		return RebuildResult{}, err
	}
	replay, err := s.Replay(ctx)
	if err != nil {
		return RebuildResult{}, err
	}
	afterCounts, err := s.SnapshotCounts(ctx)
	if err != nil {
		return RebuildResult{}, err
	}
	afterDigest, err := s.ProjectionDigest(ctx)
	if err != nil {
		return RebuildResult{}, err
	}

	res := RebuildResult{
		Replay:        replay,
		BeforeCounts:  beforeCounts,
		AfterCounts:   afterCounts,
		DigestChanged: beforeDigest != afterDigest,
		Verification:  RebuildVerification{PostRebuildDigest: afterDigest},
	}
	if verifyStability {
		if _, err := s.Replay(ctx); err != nil {
			return RebuildResult{}, err
		}
		secondDigest, err := s.ProjectionDigest(ctx)
		if err != nil {
			return RebuildResult{}, err
		}
		verified := secondDigest == afterDigest
		res.Verification.Verified = &verified
		res.Verification.SecondRebuildDigest = secondDigest
	}
	return res, nil
}

// VerifyResult reports the reducer idempotency check.
type VerifyResult struct {
	StableAfterReplay              bool   `json:"stable_after_replay"`
	InitialDigest                  string `json:"initial_digest"`
	FirstReplayDigest              string `json:"first_replay_digest"`
	SecondReplayDigest             string `json:"second_replay_digest"`
	InitialProjectionMatchedReplay bool   `json:"initial_projection_matched_replay"`
	SampledEvents                  int    `json:"sampled_events"`
	InsertedOnRetry                int    `json:"inserted_on_retry"`
	SeqIntegrityIssueCount         int    `json:"seq_integrity_issue_count"`
	Pass                           bool   `json:"pass"`
}

// VerifyIdempotency replays twice, then re-appends a sample of logged
// events under their original idempotency keys. A healthy store shows
// identical digests and zero retry insertions.
func (s *Store) VerifyIdempotency(ctx context.Context, sampleEvents int) (VerifyResult, error) {
	if sampleEvents <= 0 {
		sampleEvents = 100
	}
	initialDigest, err := s.ProjectionDigest(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	if _, err := s.Replay(ctx); err != nil {
		return VerifyResult{}, err
	}
	firstDigest, err := s.ProjectionDigest(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	if _, err := s.Replay(ctx); err != nil {
		return VerifyResult{}, err
	}
	secondDigest, err := s.ProjectionDigest(ctx)
	if err != nil {
		return VerifyResult{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT episode_id, event_type, payload_json, idempotency_key, producer, rule_version
		FROM memory_events ORDER BY event_id LIMIT ?`, sampleEvents)
	if err != nil {
		return VerifyResult{}, err
	}
	type sample struct {
		episodeID, eventType, payload, idemKey, producer, ruleVersion string
	}
	var samples []sample
	for rows.Next() {
		var sm sample
		if err := rows.Scan(&sm.episodeID, &sm.eventType, &sm.payload, &sm.idemKey, &sm.producer, &sm.ruleVersion); err != nil {
			rows.Close()
			return VerifyResult{}, err
		}
		samples = append(samples, sm)
	}
	if err := rows.Close(); err != nil {
		return VerifyResult{}, err
	}

	insertedOnRetry := 0
	for _, sm := range samples {
		var payload any
		if err := json.Unmarshal([]byte(sm.payload), &payload); err != nil {
			return VerifyResult{}, err
		}
		res, err := s.Append(ctx, AppendParams{
			EpisodeID:      sm.episodeID,
			EventType:      sm.eventType,
			Payload:        payload,
			IdempotencyKey: sm.idemKey,
			Producer:       sm.producer,
			RuleVersion:    sm.ruleVersion,
			SkipApply:      true,
		})
		if err != nil {
			return VerifyResult{}, err
		}
		if res.Inserted {
			insertedOnRetry++
		}
	}

	seqIssues, err := s.seqIntegrityIssues(ctx)
	if err != nil {
		return VerifyResult{}, err
	}

	stable := firstDigest == secondDigest
	return VerifyResult{
		StableAfterReplay:              stable,
		InitialDigest:                  initialDigest,
		FirstReplayDigest:              firstDigest,
		SecondReplayDigest:             secondDigest,
		InitialProjectionMatchedReplay: initialDigest == firstDigest,
		SampledEvents:                  len(samples),
		InsertedOnRetry:                insertedOnRetry,
		SeqIntegrityIssueCount:         len(seqIssues),
		Pass:                           stable && insertedOnRetry == 0 && len(seqIssues) == 0,
	}, nil
}

// SeqIssue describes one episode whose seq_no chain is not dense.
type SeqIssue struct {
	EpisodeID      string `json:"episode_id"`
	ExpectedPrefix []int  `json:"expected_prefix"`
	ActualPrefix   []int  `json:"actual_prefix"`
	TotalEvents    int    `json:"total_events"`
}

func (s *Store) seqIntegrityIssues(ctx context.Context) ([]SeqIssue, error) {
	epRows, err := s.db.QueryContext(ctx, `SELECT episode_id FROM episodes ORDER BY episode_id`)
	if err != nil {
		return nil, err
	}
	var episodeIDs []string
	for epRows.Next() {
		var id string
		if err := epRows.Scan(&id); err != nil {
			epRows.Close()
			return nil, err
		}
		episodeIDs = append(episodeIDs, id)
	}
	if err := epRows.Close(); err != nil {
		return nil, err
	}

	var issues []SeqIssue
	for _, episodeID := range episodeIDs {
		rows, err := s.db.QueryContext(ctx,
			`SELECT seq_no FROM memory_events WHERE episode_id = ? ORDER BY seq_no`, episodeID)
		if err != nil {
			return nil, err
		}
		var seqs []int
		for rows.Next() {
			var n int
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return nil, err
			}
			seqs = append(seqs, n)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}

		dense := true
		for i, n := range seqs {
			if n != i+1 {
				dense = false
				break
			}
		}
		if !dense {
			expected := make([]int, 0, 10)
			for i := 1; i <= len(seqs) && i <= 10; i++ {
				expected = append(expected, i)
			}
			actual := seqs
			if len(actual) > 10 {
				actual = actual[:10]
			}
			issues = append(issues, SeqIssue{
				EpisodeID:      episodeID,
				ExpectedPrefix: expected,
				ActualPrefix:   actual,
				TotalEvents:    len(seqs),
			})
		}
	}
	return issues, nil
}

// HealthIssue is one detected integrity problem.
type HealthIssue struct {
	Type    string     `json:"type"`
	Count   int        `json:"count,omitempty"`
	Details []SeqIssue `json:"details,omitempty"`
}

// HealthReport summarizes store integrity.
type HealthReport struct {
	Healthy    bool          `json:"healthy"`
	IssueCount int           `json:"issue_count"`
	Issues     []HealthIssue `json:"issues"`
}

// CheckHealth scans for broken seq chains, duplicate idempotency keys,
// and dangling projection rows.
func (s *Store) CheckHealth(ctx context.Context) (HealthReport, error) {
	seqIssues, err := s.seqIntegrityIssues(ctx)
	if err != nil {
		return HealthReport{}, err
	}

	counts := []struct {
		issueType string
		query     string
	}{
		{"duplicate_idempotency_keys", `
			SELECT COUNT(*) FROM (
			  SELECT idempotency_key FROM memory_events
			  GROUP BY idempotency_key HAVING COUNT(*) > 1
			)`},
		{"cards_without_embedding", `
			SELECT COUNT(*) FROM cards c
			LEFT JOIN card_embeddings ce ON ce.card_id = c.card_id
			WHERE ce.card_id IS NULL`},
		{"exposures_without_pack", `
			SELECT COUNT(*) FROM exposures WHERE pack_id IS NULL OR pack_id = ''`},
		{"outcomes_without_event", `
			SELECT COUNT(*) FROM outcomes o
			LEFT JOIN memory_events me ON me.event_id = o.event_id
			WHERE me.event_id IS NULL`},
	}

	issues := []HealthIssue{}
	if len(seqIssues) > 0 {
		issues = append(issues, HealthIssue{Type: "seq_integrity", Details: seqIssues})
	}
	for _, c := range counts {
		var n int
		if err := s.db.QueryRowContext(ctx, c.query).Scan(&n); err != nil {
			return HealthReport{}, err
		}
		if n > 0 {
			issues = append(issues, HealthIssue{Type: c.issueType, Count: n})
		}
	}
	return HealthReport{
		Healthy:    len(issues) == 0,
		IssueCount: len(issues),
		Issues:     issues,
	}, nil
}

// RecoverResult counts repairs made for interrupted writes.
type RecoverResult struct {
	EpisodeRecordedEvents        int `json:"episode_recorded_events"`
	ArtifactRecordedEvents       int `json:"artifact_recorded_events"`
	EvidenceRefRecordedEvents    int `json:"evidence_ref_recorded_events"`
	ConsolidationTriggeredEvents int `json:"consolidation_triggered_events"`
	ConsolidationRuns            int `json:"consolidation_runs"`
}

// Recover re-appends missing bookkeeping events for base rows that
// exist without them, then runs consolidation for episodes that have
// evidence but never produced candidates. Safe to run repeatedly.
func (s *Store) Recover(ctx context.Context, producer string, runMissingConsolidation bool) (RecoverResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT episode_id, event_type, payload_json
		FROM memory_events
		WHERE event_type IN (
		  'episode_recorded', 'artifact_recorded', 'evidence_ref_recorded',
		  'consolidation_triggered', 'candidate_proposed'
		)`)
	if err != nil {
		return RecoverResult{}, err
	}
	episodeRecorded := map[string]bool{}
	artifactRecorded := map[string]bool{}
	evidenceRecorded := map[string]bool{}
	triggered := map[string]bool{}
	consolidated := map[string]bool{}
	for rows.Next() {
		var episodeID, eventType, payloadJSON string
		if err := rows.Scan(&episodeID, &eventType, &payloadJSON); err != nil {
			rows.Close()
			return RecoverResult{}, err
		}
		switch eventType {
		case model.EventEpisodeRecorded:
			episodeRecorded[episodeID] = true
		case model.EventArtifactRecorded:
			var p artifactRecordedPayload
			if json.Unmarshal([]byte(payloadJSON), &p) == nil && p.ArtifactID != "" {
				artifactRecorded[p.ArtifactID] = true
			}
		case model.EventEvidenceRefRecorded:
			var p evidenceRefRecordedPayload
			if json.Unmarshal([]byte(payloadJSON), &p) == nil && p.EvidenceRefID != "" {
				evidenceRecorded[p.EvidenceRefID] = true
			}
		case model.EventConsolidationTriggered:
			triggered[episodeID] = true
		case model.EventCandidateProposed:
			consolidated[episodeID] = true
		}
	}
	if err := rows.Close(); err != nil {
		return RecoverResult{}, err
	}

	var res RecoverResult

	epRows, err := s.db.QueryContext(ctx,
		`SELECT episode_id, payload_hash FROM episodes ORDER BY episode_id`)
	if err != nil {
		return RecoverResult{}, err
	}
	type ep struct{ id, hash string }
	var eps []ep
	for epRows.Next() {
		var e ep
		if err := epRows.Scan(&e.id, &e.hash); err != nil {
			epRows.Close()
			return RecoverResult{}, err
		}
		eps = append(eps, e)
	}
	if err := epRows.Close(); err != nil {
		return RecoverResult{}, err
	}

	for _, e := range eps {
		if !episodeRecorded[e.id] {
			r, err := s.Append(ctx, AppendParams{
				EpisodeID: e.id,
				EventType: model.EventEpisodeRecorded,
				Payload: episodeRecordedPayload{
					SchemaVersion: model.SchemaVersion,
					EpisodeID:     e.id,
					PayloadHash:   e.hash,
				},
				IdempotencyKey: fmt.Sprintf("episode_recorded:%s:%s", e.id, e.hash),
				Producer:       producer,
			})
			if err != nil {
				return res, err
			}
			if r.Inserted {
				res.EpisodeRecordedEvents++
			}
		}
		if !triggered[e.id] {
			r, err := s.Append(ctx, AppendParams{
				EpisodeID: e.id,
				EventType: model.EventConsolidationTriggered,
				Payload: consolidationTriggeredPayload{
					SchemaVersion: model.SchemaVersion,
					EpisodeID:     e.id,
					Trigger:       "recovery_missing_trigger",
				},
				IdempotencyKey: "consolidation_triggered:" + e.id,
				Producer:       producer,
			})
			if err != nil {
				return res, err
			}
			if r.Inserted {
				res.ConsolidationTriggeredEvents++
			}
		}
	}

	artRows, err := s.db.QueryContext(ctx,
		`SELECT artifact_id, episode_id, artifact_kind, content_hash FROM artifacts ORDER BY artifact_id`)
	if err != nil {
		return res, err
	}
	type art struct{ id, episodeID, kind, hash string }
	var arts []art
	for artRows.Next() {
		var a art
		if err := artRows.Scan(&a.id, &a.episodeID, &a.kind, &a.hash); err != nil {
			artRows.Close()
			return res, err
		}
		arts = append(arts, a)
	}
	if err := artRows.Close(); err != nil {
		return res, err
	}
	for _, a := range arts {
		if artifactRecorded[a.id] {
			continue
		}
		r, err := s.Append(ctx, AppendParams{
			EpisodeID: a.episodeID,
			EventType: model.EventArtifactRecorded,
			Payload: artifactRecordedPayload{
				SchemaVersion: model.SchemaVersion,
				ArtifactID:    a.id,
				ArtifactKind:  a.kind,
				ContentHash:   a.hash,
			},
			IdempotencyKey: fmt.Sprintf("artifact_recorded:%s:%s:%s", a.episodeID, a.id, a.hash),
			Producer:       producer,
		})
		if err != nil {
			return res, err
		}
		if r.Inserted {
			res.ArtifactRecordedEvents++
		}
	}

	evRows, err := s.db.QueryContext(ctx,
		`SELECT evidence_ref_id, episode_id, ref_kind, ref_hash FROM evidence_refs ORDER BY evidence_ref_id`)
	if err != nil {
		return res, err
	}
	type evref struct{ id, episodeID, kind, hash string }
	var evs []evref
	for evRows.Next() {
		var e evref
		if err := evRows.Scan(&e.id, &e.episodeID, &e.kind, &e.hash); err != nil {
			evRows.Close()
			return res, err
		}
		evs = append(evs, e)
	}
	if err := evRows.Close(); err != nil {
		return res, err
	}
	for _, e := range evs {
		if evidenceRecorded[e.id] {
			continue
		}
		r, err := s.Append(ctx, AppendParams{
			EpisodeID: e.episodeID,
			EventType: model.EventEvidenceRefRecorded,
			Payload: evidenceRefRecordedPayload{
				SchemaVersion: model.SchemaVersion,
				EvidenceRefID: e.id,
				RefKind:       e.kind,
				RefHash:       e.hash,
			},
			IdempotencyKey: fmt.Sprintf("evidence_ref_recorded:%s:%s:%s", e.episodeID, e.id, e.hash),
			Producer:       producer,
		})
		if err != nil {
			return res, err
		}
		if r.Inserted {
			res.EvidenceRefRecordedEvents++
		}
	}

	if runMissingConsolidation {
		for _, e := range eps {
			if consolidated[e.id] {
				continue
			}
			var evCount int
			if err := s.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM evidence_refs WHERE episode_id = ?`, e.id).Scan(&evCount); err != nil {
				return res, err
			}
			if evCount == 0 {
				continue
			}
			if _, err := s.ConsolidateEpisode(ctx, e.id, producer); err != nil {
				return res, err
			}
			res.ConsolidationRuns++
		}
	}
	return res, nil
}

// MigrateResult reports an embedding migration.
type MigrateResult struct {
	MigratedCards int    `json:"migrated_cards"`
	ToModel       string `json:"to_model"`
	FromModel     string `json:"from_model,omitempty"`
	Dims          int    `json:"dims"`
}

// MigrateEmbeddings re-derives stored vectors under a new model.
// Embeddings are a droppable projection, so this touches no events.
// With fromModel set, only cards still on that model are migrated.
func (s *Store) MigrateEmbeddings(ctx context.Context, toModel string, dims int, fromModel string) (MigrateResult, error) {
	if toModel == "" {
		return MigrateResult{}, fmt.Errorf("target model is required")
	}
	if dims <= 0 {
		dims = s.policy.Embedding.Dims
	}

	var rows *sql.Rows
	var err error
	if fromModel != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT c.card_id, c.statement, c.updated_event_id
			FROM cards c
			LEFT JOIN card_embeddings ce ON ce.card_id = c.card_id
			WHERE COALESCE(ce.embedding_model, '') = ?
			ORDER BY c.card_id`, fromModel)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT card_id, statement, updated_event_id FROM cards ORDER BY card_id`)
	}
	if err != nil {
		return MigrateResult{}, err
	}
	type card struct {
		id, statement  string
		updatedEventID int64
	}
	var cards []card
	for rows.Next() {
		var c card
		if err := rows.Scan(&c.id, &c.statement, &c.updatedEventID); err != nil {
			rows.Close()
			return MigrateResult{}, err
		}
		cards = append(cards, c)
	}
	if err := rows.Close(); err != nil {
		return MigrateResult{}, err
	}

	emb := embedding.ForModel(toModel, dims)
	migrated := 0
	for _, c := range cards {
		vec, err := emb.Embed(ctx, c.statement)
		if err != nil {
			return MigrateResult{}, err
		}
		vecJSON, err := canon.JSON(vec)
		if err != nil {
			return MigrateResult{}, err
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO card_embeddings (card_id, embedding_model, embedding_vector, updated_event_id)
			VALUES (?, ?, ?, ?)`,
			c.id, emb.Model(), vecJSON, c.updatedEventID); err != nil {
			return MigrateResult{}, err
		}
		migrated++
	}

	s.setEmbeddingModel(toModel, dims)
	return MigrateResult{
		MigratedCards: migrated,
		ToModel:       toModel,
		FromModel:     fromModel,
		Dims:          dims,
	}, nil
}
