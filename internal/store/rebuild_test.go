package store

import (
	"context"
	"testing"
)

// seedStore builds a store that has exercised most reducers: two
// consolidated episodes, a pack with exposures, a dispute, and an
// anchored outcome.
func seedStore(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "please use tabs for indentation"},
		{EvidenceRefID: "ev-2", RefKind: "user_span", ExcerptText: "the billing service owns invoice generation"},
		{EvidenceRefID: "ev-3", RefKind: "tool_output", ExcerptText: "run make lint before every push"},
	})
	if _, err := s.ConsolidateEpisode(ctx, "ep-1", "test"); err != nil {
		t.Fatalf("consolidate ep-1: %v", err)
	}

	recordTestEpisode(t, s, "ep-2", []EvidenceRefInput{
		{EvidenceRefID: "ev-4", RefKind: "tool_output", ExcerptText: "invoice generation lives in payments"},
		{EvidenceRefID: "ev-5", RefKind: "tool_output", ExcerptText: "lint clean, push accepted"},
	})
	if _, err := s.BuildPack(ctx, "ep-2", "billing lint", "auto_pack", "test"); err != nil {
		t.Fatalf("build pack: %v", err)
	}
	cardID := oneCardID(t, s, "fact")
	if _, err := s.RecordDispute(ctx, "ep-2", cardID, "ev-4", "test"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if _, err := s.RecordOutcome(ctx, "ep-2", "tool_success", []string{"ev-5"}, nil, "test"); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	return s
}

func TestReplayReproducesProjections(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	before, err := s.ProjectionDigest(ctx)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	countsBefore, err := s.SnapshotCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}

	res, err := s.Replay(ctx)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.EventsReplayed == 0 {
		t.Fatal("expected events to replay")
	}

	after, err := s.ProjectionDigest(ctx)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if before != after {
		t.Errorf("digest drifted across replay:\n before %s\n after  %s", before, after)
	}

	countsAfter, err := s.SnapshotCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	for table, n := range countsBefore {
		if countsAfter[table] != n {
			t.Errorf("%s: %d rows before replay, %d after", table, n, countsAfter[table])
		}
	}
}

func TestVerifyIdempotency(t *testing.T) {
	s := seedStore(t)

	res, err := s.VerifyIdempotency(context.Background(), 100)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.StableAfterReplay {
		t.Error("replay digests differ")
	}
	if res.InsertedOnRetry != 0 {
		t.Errorf("expected 0 retry insertions, got %d", res.InsertedOnRetry)
	}
	if res.SeqIntegrityIssueCount != 0 {
		t.Errorf("expected 0 seq issues, got %d", res.SeqIntegrityIssueCount)
	}
	if !res.Pass {
		t.Error("expected verification to pass")
	}
}

func TestFullRebuild(t *testing.T) {
	s := seedStore(t)

	res, err := s.FullRebuild(context.Background(), true)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if res.DigestChanged {
		t.Error("rebuild changed the projection digest")
	}
	if res.Verification.Verified == nil || !*res.Verification.Verified {
		t.Error("expected stability verification to pass")
	}
	for table, n := range res.BeforeCounts {
		if res.AfterCounts[table] != n {
			t.Errorf("%s: %d before, %d after", table, n, res.AfterCounts[table])
		}
	}
}

func TestCheckHealth(t *testing.T) {
	s := seedStore(t)

	rep, err := s.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !rep.Healthy {
		t.Errorf("expected healthy store, got issues: %+v", rep.Issues)
	}
}

func TestRecoverRepairsOrphanRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Simulate an interrupted record: base rows exist, events do not.
	if _, err := s.db.Exec(`
		INSERT INTO episodes (episode_id, user_text, assistant_text, metadata_json, payload_hash, started_at, ended_at)
		VALUES ('ep-orphan', 'please use tabs', '', '{"scope_tier":"repo","scope_id":"acme"}', 'hash-x', '2026-08-01T00:00:00Z', '2026-08-01T00:01:00Z')`); err != nil {
		t.Fatalf("insert episode: %v", err)
	}
	if _, err := s.db.Exec(`
		INSERT INTO evidence_refs (evidence_ref_id, episode_id, ref_kind, target_id, excerpt_text, ref_hash)
		VALUES ('ev-orphan', 'ep-orphan', 'user_span', 'episode', 'please use tabs', 'hash-y')`); err != nil {
		t.Fatalf("insert evidence: %v", err)
	}

	res, err := s.Recover(ctx, "recovery", true)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if res.EpisodeRecordedEvents != 1 {
		t.Errorf("expected 1 repaired episode event, got %d", res.EpisodeRecordedEvents)
	}
	if res.EvidenceRefRecordedEvents != 1 {
		t.Errorf("expected 1 repaired evidence event, got %d", res.EvidenceRefRecordedEvents)
	}
	if res.ConsolidationTriggeredEvents != 1 {
		t.Errorf("expected 1 repaired trigger, got %d", res.ConsolidationTriggeredEvents)
	}
	if res.ConsolidationRuns != 1 {
		t.Errorf("expected 1 consolidation run, got %d", res.ConsolidationRuns)
	}

	// Second pass finds nothing to repair.
	res, err = s.Recover(ctx, "recovery", true)
	if err != nil {
		t.Fatalf("second recover: %v", err)
	}
	if res.EpisodeRecordedEvents+res.EvidenceRefRecordedEvents+res.ConsolidationTriggeredEvents != 0 {
		t.Errorf("expected no repairs on clean store, got %+v", res)
	}
}

func TestExportEpisode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "hello"},
	})

	events, err := s.ExportEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].EventType != "episode_recorded" {
		t.Errorf("expected episode_recorded first, got %s", events[0].EventType)
	}
	for i, e := range events {
		if e.SeqNo != i+1 {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, e.SeqNo)
		}
	}

	if _, err := s.ExportEpisode(ctx, "ep-missing"); err == nil {
		t.Error("expected error for unknown episode")
	}
}

func TestMigrateEmbeddings(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	total := countRows(t, s, "card_embeddings")
	res, err := s.MigrateEmbeddings(ctx, "hash-v2", 32, "")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if res.MigratedCards != total {
		t.Errorf("expected %d migrated, got %d", total, res.MigratedCards)
	}

	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM card_embeddings WHERE embedding_model = 'hash-v2'`).Scan(&n); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != total {
		t.Errorf("expected all %d embeddings on hash-v2, got %d", total, n)
	}

	// Retrieval still works against the migrated vectors.
	if _, err := s.Retrieve(ctx, RetrieveParams{Query: "billing", EpisodeID: "ep-1", Limit: 5}); err != nil {
		t.Errorf("retrieve after migrate: %v", err)
	}
}
