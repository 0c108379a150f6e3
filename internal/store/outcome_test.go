package store

import (
	"context"
	"testing"
)

func TestRecordOutcomeValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", nil)

	if _, err := s.RecordOutcome(ctx, "ep-1", "shipped_it", nil, nil, "test"); err == nil {
		t.Error("expected error for invalid outcome type")
	}
	if _, err := s.RecordOutcome(ctx, "ep-1", "tool_success", nil, nil, "test"); err != nil {
		t.Errorf("record outcome: %v", err)
	}
}

func TestRecordOutcomeIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", nil)

	first, err := s.RecordOutcome(ctx, "ep-1", "tool_success", nil, nil, "test")
	if err != nil {
		t.Fatalf("first outcome: %v", err)
	}
	second, err := s.RecordOutcome(ctx, "ep-1", "tool_success", nil, nil, "test")
	if err != nil {
		t.Fatalf("second outcome: %v", err)
	}
	if second.Inserted || second.EventID != first.EventID {
		t.Errorf("expected retry no-op, got inserted=%v event=%d (first %d)",
			second.Inserted, second.EventID, first.EventID)
	}

	// A different outcome for the same episode is a new signal.
	third, err := s.RecordOutcome(ctx, "ep-1", "user_corrected", nil, nil, "test")
	if err != nil {
		t.Fatalf("third outcome: %v", err)
	}
	if !third.Inserted {
		t.Error("expected distinct outcome to append")
	}
}

func TestUtilityAttribution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "tool_output", ExcerptText: "run make lint before every push"},
	})
	if _, err := s.ConsolidateEpisode(ctx, "ep-1", "test"); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	cardID := oneCardID(t, s, "tactic")

	recordTestEpisode(t, s, "ep-2", []EvidenceRefInput{
		{EvidenceRefID: "ev-a1", RefKind: "tool_output", ExcerptText: "lint clean, push accepted"},
	})
	pack, err := s.BuildPack(ctx, "ep-2", "run lint", "auto_pack", "test")
	if err != nil {
		t.Fatalf("build pack: %v", err)
	}
	if pack.SelectedCount == 0 {
		t.Fatal("expected the tactic card in the pack")
	}

	// Anchored success after the exposure credits the tactic a win.
	if _, err := s.RecordOutcome(ctx, "ep-2", "tool_success", []string{"ev-a1"}, nil, "test"); err != nil {
		t.Fatalf("outcome: %v", err)
	}

	var wins, losses, reuse int
	err = s.db.QueryRow(
		`SELECT wins, losses, reuse FROM utility_stats WHERE card_id = ?`, cardID).
		Scan(&wins, &losses, &reuse)
	if err != nil {
		t.Fatalf("utility stats: %v", err)
	}
	if wins != 1 || losses != 0 {
		t.Errorf("expected 1 win / 0 losses, got %d / %d", wins, losses)
	}
	if reuse != 1 {
		t.Errorf("expected reuse 1, got %d", reuse)
	}
}

func TestUtilityRequiresAnchoredOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "tool_output", ExcerptText: "run make lint before every push"},
	})
	if _, err := s.ConsolidateEpisode(ctx, "ep-1", "test"); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	cardID := oneCardID(t, s, "tactic")

	recordTestEpisode(t, s, "ep-2", nil)
	if _, err := s.BuildPack(ctx, "ep-2", "run lint", "auto_pack", "test"); err != nil {
		t.Fatalf("build pack: %v", err)
	}

	// No evidence refs on the outcome: reuse still counts, wins do not.
	if _, err := s.RecordOutcome(ctx, "ep-2", "tool_success", nil, nil, "test"); err != nil {
		t.Fatalf("outcome: %v", err)
	}

	var wins, reuse int
	err := s.db.QueryRow(
		`SELECT wins, reuse FROM utility_stats WHERE card_id = ?`, cardID).Scan(&wins, &reuse)
	if err != nil {
		t.Fatalf("utility stats: %v", err)
	}
	if wins != 0 {
		t.Errorf("expected 0 wins without an anchored outcome, got %d", wins)
	}
	if reuse != 1 {
		t.Errorf("expected reuse 1, got %d", reuse)
	}
}

func TestUtilityAttributionTopK(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Widen the tactic caps so one episode and one pack can hold three
	// tactics, then check that only the top-ranked two ever earn wins.
	pol := s.Policy()
	pol.EpisodeKindCaps["tactic"] = 3
	pol.Pack.SlotCaps["tactic"] = 3

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "tool_output", ExcerptText: "run make lint before pushing feature branches"},
		{EvidenceRefID: "ev-2", RefKind: "tool_output", ExcerptText: "run go generate whenever protobuf definitions change"},
		{EvidenceRefID: "ev-3", RefKind: "tool_output", ExcerptText: "run database migrations against staging first"},
	})
	res, err := s.ConsolidateEpisode(ctx, "ep-1", "test")
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if res.Admitted != 3 {
		t.Fatalf("expected 3 tactics admitted, got %d (rejected %d)", res.Admitted, res.Rejected)
	}

	recordTestEpisode(t, s, "ep-2", []EvidenceRefInput{
		{EvidenceRefID: "ev-o", RefKind: "tool_output", ExcerptText: "all three workflows completed"},
	})
	pack, err := s.BuildPack(ctx, "ep-2", "run make lint generate protobuf database migrations", "auto_pack", "test")
	if err != nil {
		t.Fatalf("build pack: %v", err)
	}
	if pack.SelectedCount != 3 {
		t.Fatalf("expected all 3 tactics exposed, got %d", pack.SelectedCount)
	}

	if _, err := s.RecordOutcome(ctx, "ep-2", "tool_success", []string{"ev-o"}, nil, "test"); err != nil {
		t.Fatalf("outcome: %v", err)
	}

	topK := pol.Attribution.TopK
	for i, sc := range pack.SelectedCards {
		var wins, reuse int
		err := s.db.QueryRow(
			`SELECT wins, reuse FROM utility_stats WHERE card_id = ?`, sc.CardID).
			Scan(&wins, &reuse)
		if err != nil {
			t.Fatalf("utility stats for rank %d: %v", i+1, err)
		}
		want := 0
		if i < topK {
			want = 1
		}
		if wins != want {
			t.Errorf("rank %d: expected %d wins, got %d", i+1, want, wins)
		}
		if reuse != 1 {
			t.Errorf("rank %d: expected reuse 1, got %d", i+1, reuse)
		}
	}
}
