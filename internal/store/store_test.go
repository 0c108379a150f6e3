package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func recordTestEpisode(t *testing.T, s *Store, episodeID string, refs []EvidenceRefInput) {
	t.Helper()
	_, err := s.RecordEpisode(context.Background(), EpisodeInput{
		EpisodeID:     episodeID,
		UserText:      "user turn for " + episodeID,
		AssistantText: "assistant turn for " + episodeID,
		Metadata:      map[string]any{"scope_tier": "repo", "scope_id": "acme"},
		EvidenceRefs:  refs,
	}, "test")
	if err != nil {
		t.Fatalf("record episode %s: %v", episodeID, err)
	}
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestRecordEpisode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.RecordEpisode(ctx, EpisodeInput{
		EpisodeID: "ep-1",
		UserText:  "please use tabs for indentation",
		Metadata:  map[string]any{"scope_tier": "repo", "scope_id": "acme"},
		EvidenceRefs: []EvidenceRefInput{
			{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "please use tabs for indentation"},
		},
	}, "test")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.EpisodeID != "ep-1" {
		t.Errorf("expected episode id ep-1, got %s", rec.EpisodeID)
	}
	if rec.EvidenceRefs != 1 {
		t.Errorf("expected 1 evidence ref, got %d", rec.EvidenceRefs)
	}

	// episode_recorded + evidence_ref_recorded + consolidation_triggered
	if got := countRows(t, s, "memory_events"); got != 3 {
		t.Errorf("expected 3 events, got %d", got)
	}
}

func TestRecordEpisodeIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := EpisodeInput{
		EpisodeID: "ep-1",
		UserText:  "hello",
		StartedAt: "2026-08-01T00:00:00Z",
		EndedAt:   "2026-08-01T00:01:00Z",
		Metadata:  map[string]any{},
		EvidenceRefs: []EvidenceRefInput{
			{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "hello"},
		},
	}
	if _, err := s.RecordEpisode(ctx, in, "test"); err != nil {
		t.Fatalf("first record: %v", err)
	}
	before := countRows(t, s, "memory_events")

	if _, err := s.RecordEpisode(ctx, in, "test"); err != nil {
		t.Fatalf("second record: %v", err)
	}
	if after := countRows(t, s, "memory_events"); after != before {
		t.Errorf("retry appended events: before %d, after %d", before, after)
	}
	if got := countRows(t, s, "episodes"); got != 1 {
		t.Errorf("expected 1 episode, got %d", got)
	}
}

func TestSeqNumbersDense(t *testing.T) {
	s := newTestStore(t)

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "alpha"},
		{EvidenceRefID: "ev-2", RefKind: "user_span", ExcerptText: "beta"},
	})

	rows, err := s.db.Query(`SELECT seq_no FROM memory_events WHERE episode_id = 'ep-1' ORDER BY seq_no`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	want := 1
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if n != want {
			t.Fatalf("expected seq %d, got %d", want, n)
		}
		want++
	}
	if want == 1 {
		t.Fatal("no events recorded")
	}
}
