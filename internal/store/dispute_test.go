package store

import (
	"context"
	"testing"
)

func cardStatus(t *testing.T, s *Store, cardID string) string {
	t.Helper()
	var status string
	if err := s.db.QueryRow(
		`SELECT status FROM cards WHERE card_id = ?`, cardID).Scan(&status); err != nil {
		t.Fatalf("card status: %v", err)
	}
	return status
}

func oneCardID(t *testing.T, s *Store, kind string) string {
	t.Helper()
	var id string
	if err := s.db.QueryRow(
		`SELECT card_id FROM cards WHERE kind = ?`, kind).Scan(&id); err != nil {
		t.Fatalf("card id for %s: %v", kind, err)
	}
	return id
}

func TestDisputeMassFlipsFactCard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "the billing service owns invoice generation"},
	})
	if _, err := s.ConsolidateEpisode(ctx, "ep-1", "test"); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	cardID := oneCardID(t, s, "fact")

	recordTestEpisode(t, s, "ep-2", []EvidenceRefInput{
		{EvidenceRefID: "ev-d1", RefKind: "tool_output", ExcerptText: "invoice generation handled by payments service"},
		{EvidenceRefID: "ev-d2", RefKind: "tool_output", ExcerptText: "billing service has no invoice code"},
	})

	// Repo threshold is 2.0 and tool output weighs 1.0: the first
	// dispute leaves the card active, the second flips it.
	first, err := s.RecordDispute(ctx, "ep-2", cardID, "ev-d1", "test")
	if err != nil {
		t.Fatalf("first dispute: %v", err)
	}
	if first.StatusChanged {
		t.Error("first dispute should not flip the card")
	}
	if got := cardStatus(t, s, cardID); got != "active" {
		t.Errorf("expected active after first dispute, got %s", got)
	}

	second, err := s.RecordDispute(ctx, "ep-2", cardID, "ev-d2", "test")
	if err != nil {
		t.Fatalf("second dispute: %v", err)
	}
	if !second.StatusChanged {
		t.Error("second dispute should flip the card")
	}
	if second.DisputeMass != 2.0 {
		t.Errorf("expected mass 2.0, got %v", second.DisputeMass)
	}
	if got := cardStatus(t, s, cardID); got != "needs_recheck" {
		t.Errorf("expected needs_recheck, got %s", got)
	}
}

func TestDisputeMassNeverFlipsNormativeCard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "please use tabs for indentation"},
	})
	if _, err := s.ConsolidateEpisode(ctx, "ep-1", "test"); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	cardID := oneCardID(t, s, "preference")

	recordTestEpisode(t, s, "ep-2", []EvidenceRefInput{
		{EvidenceRefID: "ev-d1", RefKind: "tool_output", ExcerptText: "gofmt rewrote tabs to spaces"},
		{EvidenceRefID: "ev-d2", RefKind: "tool_output", ExcerptText: "editorconfig says spaces"},
		{EvidenceRefID: "ev-d3", RefKind: "tool_output", ExcerptText: "ci lint wants spaces"},
	})
	for _, ev := range []string{"ev-d1", "ev-d2", "ev-d3"} {
		res, err := s.RecordDispute(ctx, "ep-2", cardID, ev, "test")
		if err != nil {
			t.Fatalf("dispute %s: %v", ev, err)
		}
		if res.StatusChanged {
			t.Errorf("dispute %s flipped a normative card", ev)
		}
	}
	if got := cardStatus(t, s, cardID); got != "active" {
		t.Errorf("expected active, got %s", got)
	}
}

func TestResolveDisputeConfirm(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "the billing service owns invoice generation"},
	})
	if _, err := s.ConsolidateEpisode(ctx, "ep-1", "test"); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	cardID := oneCardID(t, s, "fact")

	recordTestEpisode(t, s, "ep-2", []EvidenceRefInput{
		{EvidenceRefID: "ev-d1", RefKind: "tool_output", ExcerptText: "conflicting trace one"},
		{EvidenceRefID: "ev-d2", RefKind: "tool_output", ExcerptText: "conflicting trace two"},
		{EvidenceRefID: "ev-r1", RefKind: "tool_output", ExcerptText: "grep confirms invoice code in billing"},
	})
	s.RecordDispute(ctx, "ep-2", cardID, "ev-d1", "test")
	s.RecordDispute(ctx, "ep-2", cardID, "ev-d2", "test")
	if got := cardStatus(t, s, cardID); got != "needs_recheck" {
		t.Fatalf("expected needs_recheck before resolve, got %s", got)
	}

	res, err := s.ResolveDispute(ctx, "ep-2", cardID, "ev-r1", ResolutionConfirm, "test")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ToStatus != "active" {
		t.Errorf("expected active, got %s", res.ToStatus)
	}
	if got := cardStatus(t, s, cardID); got != "active" {
		t.Errorf("expected active after confirm, got %s", got)
	}
}

func TestResolveDisputeRefute(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "the billing service owns invoice generation"},
	})
	if _, err := s.ConsolidateEpisode(ctx, "ep-1", "test"); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	cardID := oneCardID(t, s, "fact")

	recordTestEpisode(t, s, "ep-2", []EvidenceRefInput{
		{EvidenceRefID: "ev-r1", RefKind: "tool_output", ExcerptText: "billing service deleted last quarter"},
	})
	res, err := s.ResolveDispute(ctx, "ep-2", cardID, "ev-r1", ResolutionRefute, "test")
	if err != nil {
		t.Fatalf("refute: %v", err)
	}
	if res.ToStatus != "deprecated" {
		t.Errorf("expected deprecated, got %s", res.ToStatus)
	}
	if got := cardStatus(t, s, cardID); got != "deprecated" {
		t.Errorf("expected deprecated, got %s", got)
	}
}

func TestRefuteNormativeRequiresUserSpan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "please use tabs for indentation"},
	})
	if _, err := s.ConsolidateEpisode(ctx, "ep-1", "test"); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	cardID := oneCardID(t, s, "preference")

	recordTestEpisode(t, s, "ep-2", []EvidenceRefInput{
		{EvidenceRefID: "ev-t1", RefKind: "tool_output", ExcerptText: "linter output"},
		{EvidenceRefID: "ev-u1", RefKind: "user_span", ExcerptText: "actually i changed my mind, use spaces"},
	})

	if _, err := s.ResolveDispute(ctx, "ep-2", cardID, "ev-t1", ResolutionRefute, "test"); err == nil {
		t.Error("expected refute with tool evidence to fail for a normative card")
	}
	if _, err := s.ResolveDispute(ctx, "ep-2", cardID, "ev-u1", ResolutionRefute, "test"); err != nil {
		t.Errorf("refute with user evidence: %v", err)
	}
	if got := cardStatus(t, s, cardID); got != "deprecated" {
		t.Errorf("expected deprecated, got %s", got)
	}
}

func TestPromoteCard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "please use tabs for indentation"},
	})
	if _, err := s.ConsolidateEpisode(ctx, "ep-1", "test"); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	cardID := oneCardID(t, s, "preference")

	recordTestEpisode(t, s, "ep-2", []EvidenceRefInput{
		{EvidenceRefID: "ev-u1", RefKind: "user_span", ExcerptText: "this applies across all my projects"},
	})
	res, err := s.PromoteCard(ctx, "ep-2", cardID, "go-projects", "ev-u1", "test")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if res.FromTier != "repo" || res.ToTier != "domain" {
		t.Errorf("expected repo -> domain, got %s -> %s", res.FromTier, res.ToTier)
	}

	var tier, scopeID string
	if err := s.db.QueryRow(
		`SELECT scope_tier, scope_id FROM cards WHERE card_id = ?`, cardID).Scan(&tier, &scopeID); err != nil {
		t.Fatalf("query: %v", err)
	}
	if tier != "domain" || scopeID != "go-projects" {
		t.Errorf("expected domain/go-projects, got %s/%s", tier, scopeID)
	}
}
