package store

import (
	"context"
	"testing"
)

func TestAppendIdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", nil)

	p := AppendParams{
		EpisodeID:      "ep-1",
		EventType:      "consolidation_triggered",
		Payload:        map[string]any{"schema_version": 1, "episode_id": "ep-1", "trigger": "manual"},
		IdempotencyKey: "consolidation_triggered:ep-1:manual",
		SkipApply:      true,
	}
	first, err := s.Append(ctx, p)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if !first.Inserted {
		t.Error("expected first append to insert")
	}

	second, err := s.Append(ctx, p)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if second.Inserted {
		t.Error("expected retry to be a no-op")
	}
	if second.EventID != first.EventID || second.SeqNo != first.SeqNo {
		t.Errorf("retry returned different row: first (%d,%d), second (%d,%d)",
			first.EventID, first.SeqNo, second.EventID, second.SeqNo)
	}
}

func TestAppendRejectsUnknownEventType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recordTestEpisode(t, s, "ep-1", nil)

	_, err := s.Append(ctx, AppendParams{
		EpisodeID:      "ep-1",
		EventType:      "card_yeeted",
		Payload:        map[string]any{},
		IdempotencyKey: "card_yeeted:ep-1",
	})
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}
