// Package store implements the event log, reducers, and every engine
// built on top of them: consolidation, retrieval/packing, disputes,
// outcome attribution, and the rebuild/verification operations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/tkwade/memdeck/internal/embedding"
	"github.com/tkwade/memdeck/internal/policy"
)

// embeddingCacheEntries bounds the in-process embedding cache. Vectors
// are small, so this is entries, not bytes.
const embeddingCacheEntries = 4096

// Store wraps the SQLite database holding the canonical log and all
// projections.
type Store struct {
	db         *sql.DB
	path       string
	policy     *policy.Policy
	classifier Classifier
	entropy    *rand.Rand
	emb        embedding.Embedder
}

// execer is satisfied by both *sql.DB and *sql.Tx so reducers can run
// inside the append transaction and inside replay.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens or creates the memory database at dbPath.
func Open(dbPath string, pol *policy.Policy) (*Store, error) {
	if pol == nil {
		pol = policy.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{
		db:         db,
		path:       dbPath,
		policy:     pol,
		classifier: NewRuleClassifier(pol),
		entropy:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.setEmbeddingModel(pol.Embedding.Model, pol.Embedding.Dims)

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// SetClassifier replaces the candidate classifier. The engine treats
// classifier output as untrusted input regardless of implementation.
func (s *Store) SetClassifier(c Classifier) {
	if c != nil {
		s.classifier = c
	}
}

// Policy returns the active policy.
func (s *Store) Policy() *policy.Policy { return s.policy }

func (s *Store) embedder() embedding.Embedder { return s.emb }

func (s *Store) setEmbeddingModel(model string, dims int) {
	inner := embedding.ForModel(model, dims)
	if cached, err := embedding.NewCached(inner, embeddingCacheEntries); err == nil {
		s.emb = cached
	} else {
		s.emb = inner
	}
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newID(prefix string) string {
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS episodes (
		episode_id     TEXT PRIMARY KEY,
		user_text      TEXT NOT NULL,
		assistant_text TEXT NOT NULL,
		model_name     TEXT,
		metadata_json  TEXT NOT NULL DEFAULT '{}',
		payload_hash   TEXT NOT NULL,
		started_at     TEXT NOT NULL,
		ended_at       TEXT NOT NULL,
		created_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		artifact_id   TEXT PRIMARY KEY,
		episode_id    TEXT NOT NULL REFERENCES episodes(episode_id),
		artifact_kind TEXT NOT NULL CHECK (artifact_kind IN ('tool_output', 'doc')),
		content_path  TEXT NOT NULL,
		content_hash  TEXT NOT NULL,
		mime_type     TEXT,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS evidence_refs (
		evidence_ref_id TEXT PRIMARY KEY,
		episode_id      TEXT NOT NULL REFERENCES episodes(episode_id),
		artifact_id     TEXT REFERENCES artifacts(artifact_id),
		ref_kind        TEXT NOT NULL CHECK (ref_kind IN ('user_span', 'tool_output', 'doc_span')),
		target_id       TEXT NOT NULL,
		start_offset    INTEGER,
		end_offset      INTEGER,
		line_start      INTEGER,
		line_end        INTEGER,
		excerpt_text    TEXT,
		ref_hash        TEXT NOT NULL,
		created_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS memory_events (
		event_id        INTEGER PRIMARY KEY AUTOINCREMENT,
		episode_id      TEXT NOT NULL REFERENCES episodes(episode_id),
		seq_no          INTEGER NOT NULL,
		event_type      TEXT NOT NULL,
		payload_json    TEXT NOT NULL,
		payload_hash    TEXT NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		producer        TEXT NOT NULL,
		rule_version    TEXT NOT NULL,
		created_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (episode_id, seq_no)
	);
	CREATE INDEX IF NOT EXISTS idx_memory_events_episode ON memory_events (episode_id, seq_no);
	CREATE INDEX IF NOT EXISTS idx_memory_events_type ON memory_events (event_type, created_at);

	CREATE TABLE IF NOT EXISTS cards (
		card_id            TEXT PRIMARY KEY,
		kind               TEXT NOT NULL CHECK (kind IN ('preference', 'constraint', 'commitment', 'fact', 'tactic', 'negative_result')),
		statement          TEXT NOT NULL,
		scope_tier         TEXT NOT NULL CHECK (scope_tier IN ('repo', 'domain', 'global')),
		scope_id           TEXT NOT NULL,
		topic_key          TEXT NOT NULL,
		tags_json          TEXT NOT NULL DEFAULT '[]',
		status             TEXT NOT NULL CHECK (status IN ('active', 'needs_recheck', 'deprecated', 'archived')),
		supersedes_card_id TEXT REFERENCES cards(card_id),
		created_event_id   INTEGER NOT NULL,
		updated_event_id   INTEGER NOT NULL,
		archived_at        TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_cards_scope_kind ON cards (scope_tier, scope_id, kind, status);

	CREATE TABLE IF NOT EXISTS card_evidence_refs (
		card_id         TEXT NOT NULL REFERENCES cards(card_id),
		evidence_ref_id TEXT NOT NULL REFERENCES evidence_refs(evidence_ref_id),
		PRIMARY KEY (card_id, evidence_ref_id)
	);

	CREATE TABLE IF NOT EXISTS consolidation_decisions (
		decision_id  INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id     INTEGER NOT NULL,
		episode_id   TEXT NOT NULL,
		candidate_id TEXT,
		action       TEXT NOT NULL,
		reason_code  TEXT,
		details_json TEXT NOT NULL,
		created_at   TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS consolidation_ledger (
		episode_id            TEXT PRIMARY KEY,
		proposed_count        INTEGER NOT NULL,
		admitted_count        INTEGER NOT NULL,
		rejected_count        INTEGER NOT NULL,
		merged_count          INTEGER NOT NULL,
		superseded_count      INTEGER NOT NULL,
		archived_count        INTEGER NOT NULL,
		reason_breakdown_json TEXT NOT NULL,
		computed_at           TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS card_embeddings (
		card_id          TEXT PRIMARY KEY REFERENCES cards(card_id),
		embedding_model  TEXT NOT NULL,
		embedding_vector TEXT NOT NULL,
		updated_event_id INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pack_snapshots (
		pack_id                TEXT PRIMARY KEY,
		episode_id             TEXT NOT NULL REFERENCES episodes(episode_id),
		channel                TEXT NOT NULL CHECK (channel IN ('auto_pack', 'search', 'explicit_read', 'check')),
		query_text             TEXT,
		policy_version         TEXT NOT NULL,
		ranked_candidates_json TEXT NOT NULL,
		selected_cards_json    TEXT NOT NULL,
		created_at             TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS exposures (
		exposure_id     TEXT PRIMARY KEY,
		episode_id      TEXT NOT NULL REFERENCES episodes(episode_id),
		pack_id         TEXT REFERENCES pack_snapshots(pack_id),
		card_id         TEXT NOT NULL REFERENCES cards(card_id),
		channel         TEXT NOT NULL CHECK (channel IN ('auto_pack', 'search', 'explicit_read', 'check')),
		rank_position   INTEGER,
		score_total     REAL,
		source_event_id INTEGER NOT NULL,
		created_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_exposures_episode ON exposures (episode_id, channel, created_at);

	CREATE TABLE IF NOT EXISTS disputes (
		dispute_id      TEXT PRIMARY KEY,
		card_id         TEXT NOT NULL REFERENCES cards(card_id),
		evidence_ref_id TEXT NOT NULL REFERENCES evidence_refs(evidence_ref_id),
		weight          REAL NOT NULL,
		event_id        INTEGER NOT NULL,
		created_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS card_status_history (
		card_id     TEXT NOT NULL REFERENCES cards(card_id),
		event_id    INTEGER NOT NULL,
		from_status TEXT NOT NULL,
		to_status   TEXT NOT NULL,
		reason_code TEXT NOT NULL,
		created_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (card_id, event_id)
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		event_id              INTEGER PRIMARY KEY,
		episode_id            TEXT NOT NULL REFERENCES episodes(episode_id),
		outcome_type          TEXT NOT NULL,
		evidence_ref_ids_json TEXT NOT NULL,
		metadata_json         TEXT NOT NULL DEFAULT '{}',
		created_at            TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_episode ON outcomes (episode_id, created_at);

	CREATE TABLE IF NOT EXISTS utility_stats (
		card_id          TEXT PRIMARY KEY REFERENCES cards(card_id),
		wins             INTEGER NOT NULL DEFAULT 0,
		losses           INTEGER NOT NULL DEFAULT 0,
		reuse            INTEGER NOT NULL DEFAULT 0,
		updated_event_id INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 index over card statements, maintained by the reducers.
	_, err := s.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS cards_fts USING fts5(
		card_id UNINDEXED,
		statement,
		topic_key,
		tags,
		tokenize='porter unicode61'
	)`)
	return err
}

func nowISO() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}
