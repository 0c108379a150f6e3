package store

import (
	"context"
	"testing"
)

func TestConsolidateAdmits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "please use tabs for indentation"},
		{EvidenceRefID: "ev-2", RefKind: "tool_output", ExcerptText: "make test failed with exit status 2"},
		{EvidenceRefID: "ev-3", RefKind: "user_span", ExcerptText: "the billing service owns invoice generation"},
	})

	res, err := s.ConsolidateEpisode(ctx, "ep-1", "test")
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if res.Proposed != 3 {
		t.Errorf("expected 3 proposed, got %d", res.Proposed)
	}
	if res.Admitted != 3 {
		t.Errorf("expected 3 admitted, got %d (rejected %d)", res.Admitted, res.Rejected)
	}

	kinds := map[string]int{}
	rows, err := s.db.Query(`SELECT kind FROM cards WHERE status = 'active'`)
	if err != nil {
		t.Fatalf("query cards: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			t.Fatalf("scan: %v", err)
		}
		kinds[k]++
	}
	if kinds["preference"] != 1 || kinds["negative_result"] != 1 || kinds["fact"] != 1 {
		t.Errorf("unexpected kind distribution: %v", kinds)
	}

	if res.Ledger.EpisodeID != "ep-1" {
		t.Errorf("ledger episode mismatch: %s", res.Ledger.EpisodeID)
	}
}

func TestConsolidateIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "please use tabs for indentation"},
	})

	if _, err := s.ConsolidateEpisode(ctx, "ep-1", "test"); err != nil {
		t.Fatalf("first consolidate: %v", err)
	}
	cardsBefore := countRows(t, s, "cards")
	ledgerBefore := countRows(t, s, "consolidation_ledger")

	// The second run hits the duplicate gate against the card from the
	// first run: a reject decision is recorded, but no card is ever
	// created twice.
	res, err := s.ConsolidateEpisode(ctx, "ep-1", "test")
	if err != nil {
		t.Fatalf("second consolidate: %v", err)
	}
	if res.Admitted != 0 {
		t.Errorf("expected 0 admitted on rerun, got %d", res.Admitted)
	}
	if got := countRows(t, s, "cards"); got != cardsBefore {
		t.Errorf("card count changed on rerun: %d -> %d", cardsBefore, got)
	}
	if got := countRows(t, s, "consolidation_ledger"); got != ledgerBefore {
		t.Errorf("ledger rows changed on rerun: %d -> %d", ledgerBefore, got)
	}

	var admittedTotal int
	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM consolidation_decisions
		WHERE episode_id = 'ep-1' AND action = 'card_admitted'`).Scan(&admittedTotal); err != nil {
		t.Fatalf("query admissions: %v", err)
	}
	if admittedTotal != 1 {
		t.Errorf("expected exactly 1 admission across reruns, got %d", admittedTotal)
	}
}

func TestConsolidateRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "please use tabs for indentation"},
	})
	if _, err := s.ConsolidateEpisode(ctx, "ep-1", "test"); err != nil {
		t.Fatalf("consolidate ep-1: %v", err)
	}

	recordTestEpisode(t, s, "ep-2", []EvidenceRefInput{
		{EvidenceRefID: "ev-2", RefKind: "user_span", ExcerptText: "please use tabs for indentation"},
	})
	res, err := s.ConsolidateEpisode(ctx, "ep-2", "test")
	if err != nil {
		t.Fatalf("consolidate ep-2: %v", err)
	}
	if res.Admitted != 0 || res.Rejected != 1 {
		t.Errorf("expected 0 admitted / 1 rejected, got %d / %d", res.Admitted, res.Rejected)
	}

	var reason string
	err = s.db.QueryRow(`
		SELECT reason_code FROM consolidation_decisions
		WHERE episode_id = 'ep-2' AND action = 'card_rejected'`).Scan(&reason)
	if err != nil {
		t.Fatalf("query decision: %v", err)
	}
	if reason != ReasonDuplicate {
		t.Errorf("expected reason %s, got %s", ReasonDuplicate, reason)
	}
	if got := countRows(t, s, "cards"); got != 1 {
		t.Errorf("expected 1 card, got %d", got)
	}
}

func TestConsolidateKindCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Five distinct facts against a per-episode fact cap of four.
	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "the billing service owns invoice generation"},
		{EvidenceRefID: "ev-2", RefKind: "user_span", ExcerptText: "grafana dashboards live under ops monitoring"},
		{EvidenceRefID: "ev-3", RefKind: "user_span", ExcerptText: "deploys go through the staging cluster first"},
		{EvidenceRefID: "ev-4", RefKind: "user_span", ExcerptText: "the search index rebuilds nightly from postgres"},
		{EvidenceRefID: "ev-5", RefKind: "user_span", ExcerptText: "customer exports land in the s3 archive bucket"},
	})

	res, err := s.ConsolidateEpisode(ctx, "ep-1", "test")
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if want := s.Policy().EpisodeKindCaps["fact"]; res.Admitted != want {
		t.Errorf("expected %d admitted, got %d", want, res.Admitted)
	}
	if res.Rejected != 1 {
		t.Errorf("expected 1 rejected, got %d", res.Rejected)
	}

	var reason string
	err = s.db.QueryRow(`
		SELECT reason_code FROM consolidation_decisions
		WHERE episode_id = 'ep-1' AND action = 'card_rejected'`).Scan(&reason)
	if err != nil {
		t.Fatalf("query decision: %v", err)
	}
	if reason != ReasonEpisodeKindCap {
		t.Errorf("expected reason %s, got %s", ReasonEpisodeKindCap, reason)
	}
}

type fixedKindClassifier struct{ kind string }

func (c fixedKindClassifier) ClassifyKind(_, _ string) string { return c.kind }

func TestConsolidateEvidenceInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Force a normative kind onto tool-output evidence: the evidence
	// gate must reject it regardless of what the classifier claims.
	s.SetClassifier(fixedKindClassifier{kind: "constraint"})

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "tool_output", ExcerptText: "build completed in 42s"},
	})

	res, err := s.ConsolidateEpisode(ctx, "ep-1", "test")
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if res.Admitted != 0 || res.Rejected != 1 {
		t.Errorf("expected 0 admitted / 1 rejected, got %d / %d", res.Admitted, res.Rejected)
	}

	var reason string
	err = s.db.QueryRow(`
		SELECT reason_code FROM consolidation_decisions
		WHERE episode_id = 'ep-1' AND action = 'card_rejected'`).Scan(&reason)
	if err != nil {
		t.Fatalf("query decision: %v", err)
	}
	if reason != ReasonMissingEvidence {
		t.Errorf("expected reason %s, got %s", ReasonMissingEvidence, reason)
	}
}

func TestConsolidateSupersedesNormative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "please use tabs for indentation everywhere"},
	})
	if _, err := s.ConsolidateEpisode(ctx, "ep-1", "test"); err != nil {
		t.Fatalf("consolidate ep-1: %v", err)
	}

	// Same topic key, different statement, below the duplicate
	// thresholds: a fresh normative card supersedes the old one.
	recordTestEpisode(t, s, "ep-2", []EvidenceRefInput{
		{EvidenceRefID: "ev-2", RefKind: "user_span", ExcerptText: "please use two-space soft tabs when editing yaml"},
	})
	res, err := s.ConsolidateEpisode(ctx, "ep-2", "test")
	if err != nil {
		t.Fatalf("consolidate ep-2: %v", err)
	}
	if res.Admitted != 1 {
		t.Fatalf("expected 1 admitted, got %d (rejected %d)", res.Admitted, res.Rejected)
	}
	if res.Superseded != 1 {
		t.Errorf("expected 1 superseded, got %d", res.Superseded)
	}

	// The old card deprecates and the new card carries the link.
	var deprecated int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM cards WHERE status = 'deprecated'`).Scan(&deprecated); err != nil {
		t.Fatalf("query: %v", err)
	}
	if deprecated != 1 {
		t.Errorf("expected 1 deprecated card, got %d", deprecated)
	}

	var linked int
	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM cards
		WHERE status = 'active' AND supersedes_card_id IS NOT NULL`).Scan(&linked); err != nil {
		t.Fatalf("query link: %v", err)
	}
	if linked != 1 {
		t.Errorf("expected 1 card with a supersedes link, got %d", linked)
	}
}

func TestConsolidateScopeKindBudget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Policy().BudgetCaps["repo"]["fact"] = 1

	recordTestEpisode(t, s, "ep-1", []EvidenceRefInput{
		{EvidenceRefID: "ev-1", RefKind: "user_span", ExcerptText: "the billing service owns invoice generation"},
		{EvidenceRefID: "ev-2", RefKind: "user_span", ExcerptText: "grafana dashboards live under ops monitoring"},
	})

	res, err := s.ConsolidateEpisode(ctx, "ep-1", "test")
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if res.Admitted != 1 {
		t.Errorf("expected 1 admitted under the budget, got %d", res.Admitted)
	}
	if res.Rejected != 1 {
		t.Errorf("expected 1 rejected over the budget, got %d", res.Rejected)
	}

	var reason string
	err = s.db.QueryRow(`
		SELECT reason_code FROM consolidation_decisions
		WHERE episode_id = 'ep-1' AND action = 'card_rejected'`).Scan(&reason)
	if err != nil {
		t.Fatalf("query decision: %v", err)
	}
	if reason != ReasonScopeKindBudget {
		t.Errorf("expected %s, got %s", ReasonScopeKindBudget, reason)
	}
}
