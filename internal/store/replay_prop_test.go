package store

import (
	"context"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

var statementWords = []string{
	"billing", "invoice", "grafana", "postgres", "staging", "cluster",
	"deploys", "exports", "archive", "monitoring", "search", "index",
	"gateway", "pipeline", "cache", "queue", "worker", "schema",
}

// TestReplayDeterminism drives random episode batches through the
// store and checks that dropping and re-folding the projections always
// lands on the same digest.
func TestReplayDeterminism(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := newTestStore(t)
		ctx := context.Background()

		episodes := rapid.IntRange(1, 4).Draw(rt, "episodes")
		for e := 0; e < episodes; e++ {
			episodeID := fmt.Sprintf("ep-%d", e)
			refs := rapid.IntRange(1, 3).Draw(rt, "refs")
			var inputs []EvidenceRefInput
			for r := 0; r < refs; r++ {
				words := rapid.SliceOfNDistinct(
					rapid.SampledFrom(statementWords), 3, 5, rapid.ID[string],
				).Draw(rt, fmt.Sprintf("words-%d-%d", e, r))
				stmt := ""
				for i, w := range words {
					if i > 0 {
						stmt += " "
					}
					stmt += w
				}
				inputs = append(inputs, EvidenceRefInput{
					EvidenceRefID: fmt.Sprintf("ev-%d-%d", e, r),
					RefKind:       "user_span",
					ExcerptText:   stmt,
				})
			}
			recordTestEpisode(t, s, episodeID, inputs)
			if _, err := s.ConsolidateEpisode(ctx, episodeID, "test"); err != nil {
				rt.Fatalf("consolidate %s: %v", episodeID, err)
			}
			if rapid.Bool().Draw(rt, fmt.Sprintf("outcome-%d", e)) {
				outcomeType := rapid.SampledFrom([]string{
					"tool_success", "tool_failure", "user_confirmed_helpful", "user_corrected",
				}).Draw(rt, fmt.Sprintf("outcome-type-%d", e))
				if _, err := s.RecordOutcome(ctx, episodeID, outcomeType,
					[]string{inputs[0].EvidenceRefID}, nil, "test"); err != nil {
					rt.Fatalf("outcome %s: %v", episodeID, err)
				}
			}
		}

		before, err := s.ProjectionDigest(ctx)
		if err != nil {
			rt.Fatalf("digest: %v", err)
		}
		if _, err := s.Replay(ctx); err != nil {
			rt.Fatalf("replay: %v", err)
		}
		after, err := s.ProjectionDigest(ctx)
		if err != nil {
			rt.Fatalf("digest: %v", err)
		}
		if before != after {
			rt.Fatalf("digest drifted:\n before %s\n after  %s", before, after)
		}
	})
}

// TestAppendIdempotencyProperty re-sends random event batches and
// checks the log never grows on retry.
func TestAppendIdempotencyProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := newTestStore(t)
		ctx := context.Background()

		recordTestEpisode(t, s, "ep-1", nil)

		keys := rapid.SliceOfNDistinct(
			rapid.StringMatching(`key-[a-z]{4,8}`), 1, 6, rapid.ID[string],
		).Draw(rt, "keys")

		for _, key := range keys {
			if _, err := s.Append(ctx, AppendParams{
				EpisodeID:      "ep-1",
				EventType:      "consolidation_triggered",
				Payload:        map[string]any{"schema_version": 1, "episode_id": "ep-1", "trigger": key},
				IdempotencyKey: "consolidation_triggered:ep-1:" + key,
				SkipApply:      true,
			}); err != nil {
				rt.Fatalf("append %s: %v", key, err)
			}
		}
		before := countRows(t, s, "memory_events")

		retries := rapid.IntRange(1, 10).Draw(rt, "retries")
		for i := 0; i < retries; i++ {
			key := rapid.SampledFrom(keys).Draw(rt, fmt.Sprintf("retry-%d", i))
			res, err := s.Append(ctx, AppendParams{
				EpisodeID:      "ep-1",
				EventType:      "consolidation_triggered",
				Payload:        map[string]any{"schema_version": 1, "episode_id": "ep-1", "trigger": key},
				IdempotencyKey: "consolidation_triggered:ep-1:" + key,
				SkipApply:      true,
			})
			if err != nil {
				rt.Fatalf("retry %s: %v", key, err)
			}
			if res.Inserted {
				rt.Fatalf("retry of %s inserted a new row", key)
			}
		}
		if after := countRows(t, s, "memory_events"); after != before {
			rt.Fatalf("log grew on retry: %d -> %d", before, after)
		}
	})
}
