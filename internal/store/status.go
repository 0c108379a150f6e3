package store

import (
	"context"
	"fmt"
	"math"
)

// DefaultTrendDays is the default reporting window.
const DefaultTrendDays = 30

// Readiness gate thresholds. The store refuses to call itself ready
// for causal instrumentation until retrieval quality, growth, and
// event volume all clear these.
const (
	gateMinSampleEpisodes    = 10
	gateMinEventsSevenDays   = 100
	gateMinPrecisionProxy    = 0.65
	gateMaxCorrectionRate    = 0.30
	gateMaxBoundednessGrowth = 0.20
	gateMinAllowedGrowth     = 5
	gatePlateauDelta         = 0.05
)

// TrendDay is one day of consolidation activity.
type TrendDay struct {
	Day            string   `json:"day"`
	Proposed       int      `json:"proposed"`
	Admitted       int      `json:"admitted"`
	Rejected       int      `json:"rejected"`
	Merged         int      `json:"merged"`
	Superseded     int      `json:"superseded"`
	Archived       int      `json:"archived"`
	AcceptanceRate *float64 `json:"acceptance_rate"`
}

// ConsolidationTrend groups consolidation decision events by day over
// the trailing window.
func (s *Store) ConsolidationTrend(ctx context.Context, days int) ([]TrendDay, error) {
	if days <= 0 {
		days = DefaultTrendDays
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(created_at, 1, 10) AS day,
		       SUM(CASE WHEN event_type = 'candidate_proposed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN event_type = 'card_admitted' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN event_type = 'card_rejected' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN event_type = 'card_merged' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN event_type = 'card_superseded' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN event_type = 'card_archived' THEN 1 ELSE 0 END)
		FROM memory_events
		WHERE event_type IN (
		  'candidate_proposed', 'card_admitted', 'card_rejected',
		  'card_merged', 'card_superseded', 'card_archived'
		)
		  AND created_at >= datetime('now', ?)
		GROUP BY day
		ORDER BY day`,
		fmt.Sprintf("-%d days", days))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TrendDay{}
	for rows.Next() {
		var d TrendDay
		if err := rows.Scan(&d.Day, &d.Proposed, &d.Admitted, &d.Rejected,
			&d.Merged, &d.Superseded, &d.Archived); err != nil {
			return nil, err
		}
		if d.Proposed > 0 {
			rate := round4(float64(d.Admitted) / float64(d.Proposed))
			d.AcceptanceRate = &rate
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// WindowMetrics measures auto-pack retrieval quality over a window:
// of the episodes that received a pack, how many ended well.
type WindowMetrics struct {
	WindowDays          int      `json:"window_days"`
	AutoPackEpisodes    int      `json:"auto_pack_episodes"`
	EvaluatedEpisodes   int      `json:"episodes_with_terminal_outcomes"`
	PositiveEpisodes    int      `json:"positive_episode_count"`
	NegativeEpisodes    int      `json:"negative_episode_count"`
	PrecisionProxy      *float64 `json:"precision_proxy"`
	TerminalOutcomes    int      `json:"terminal_outcomes"`
	UserCorrectedEvents int      `json:"user_corrected_events"`
	CorrectionRate      *float64 `json:"correction_rate"`
}

// RetrievalWindowMetrics computes the retrieval precision proxy and
// correction rate for the trailing window.
func (s *Store) RetrievalWindowMetrics(ctx context.Context, days int) (WindowMetrics, error) {
	if days <= 0 {
		days = DefaultTrendDays
	}
	window := fmt.Sprintf("-%d days", days)

	m := WindowMetrics{WindowDays: days}
	err := s.db.QueryRowContext(ctx, `
		WITH auto_pack_eps AS (
		  SELECT DISTINCT episode_id
		  FROM exposures
		  WHERE channel = 'auto_pack'
		    AND created_at >= datetime('now', ?)
		),
		outcomes_by_episode AS (
		  SELECT episode_id,
		         MAX(CASE WHEN outcome_type IN ('tool_success','user_confirmed_helpful') THEN 1 ELSE 0 END) AS has_positive,
		         MAX(CASE WHEN outcome_type IN ('tool_failure','user_corrected') THEN 1 ELSE 0 END) AS has_negative
		  FROM outcomes
		  WHERE created_at >= datetime('now', ?)
		  GROUP BY episode_id
		)
		SELECT COUNT(*),
		       COALESCE(SUM(COALESCE(o.has_positive, 0)), 0),
		       COALESCE(SUM(COALESCE(o.has_negative, 0)), 0),
		       COALESCE(SUM(CASE WHEN o.has_positive = 1 OR o.has_negative = 1 THEN 1 ELSE 0 END), 0)
		FROM auto_pack_eps a
		LEFT JOIN outcomes_by_episode o ON o.episode_id = a.episode_id`,
		window, window).
		Scan(&m.AutoPackEpisodes, &m.PositiveEpisodes, &m.NegativeEpisodes, &m.EvaluatedEpisodes)
	if err != nil {
		return WindowMetrics{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN outcome_type = 'user_corrected' THEN 1 ELSE 0 END), 0)
		FROM outcomes
		WHERE created_at >= datetime('now', ?)
		  AND outcome_type IN ('tool_success','tool_failure','user_confirmed_helpful','user_corrected')`,
		window).
		Scan(&m.TerminalOutcomes, &m.UserCorrectedEvents)
	if err != nil {
		return WindowMetrics{}, err
	}

	if m.EvaluatedEpisodes > 0 {
		p := round4(float64(m.PositiveEpisodes) / float64(m.EvaluatedEpisodes))
		m.PrecisionProxy = &p
	}
	if m.TerminalOutcomes > 0 {
		c := round4(float64(m.UserCorrectedEvents) / float64(m.TerminalOutcomes))
		m.CorrectionRate = &c
	}
	return m, nil
}

// UtilitySummary aggregates tactic utility stats.
type UtilitySummary struct {
	TacticCards int      `json:"tactic_cards"`
	Wins        int      `json:"wins"`
	Losses      int      `json:"losses"`
	Reuse       int      `json:"reuse"`
	WinRate     *float64 `json:"win_rate"`
}

func (s *Store) UtilitySummary(ctx context.Context) (UtilitySummary, error) {
	var u UtilitySummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(wins), 0),
		       COALESCE(SUM(losses), 0),
		       COALESCE(SUM(reuse), 0)
		FROM utility_stats`).
		Scan(&u.TacticCards, &u.Wins, &u.Losses, &u.Reuse)
	if err != nil {
		return UtilitySummary{}, err
	}
	if total := u.Wins + u.Losses; total > 0 {
		r := round4(float64(u.Wins) / float64(total))
		u.WinRate = &r
	}
	return u, nil
}

// KindCount pairs a grouping key with its row count.
type KindCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// CardsBreakdown groups cards three ways.
type CardsBreakdown struct {
	ByKind      []KindCount `json:"by_kind"`
	ByStatus    []KindCount `json:"by_status"`
	ByScopeTier []KindCount `json:"by_scope_tier"`
}

// StatusReport is the full store overview.
type StatusReport struct {
	DBPath             string         `json:"db_path"`
	GeneratedAt        string         `json:"generated_at"`
	ProjectionDigest   string         `json:"projection_digest"`
	Health             HealthReport   `json:"health"`
	Counts             map[string]int `json:"counts"`
	Cards              CardsBreakdown `json:"cards_breakdown"`
	ConsolidationTrend []TrendDay     `json:"consolidation_trend"`
	RetrievalWindow    WindowMetrics  `json:"retrieval_window"`
	Utility            UtilitySummary `json:"utility_summary"`
}

// Status assembles counts, health, digest, and trailing-window trends
// into one report.
func (s *Store) Status(ctx context.Context, days int) (StatusReport, error) {
	rep := StatusReport{
		DBPath:      s.path,
		GeneratedAt: nowISO(),
		Counts:      map[string]int{},
	}
	tables := []string{
		"episodes", "artifacts", "evidence_refs", "memory_events",
		"cards", "exposures", "outcomes", "pack_snapshots",
		"disputes", "utility_stats",
	}
	for _, table := range tables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return StatusReport{}, err
		}
		rep.Counts[table] = n
	}

	var err error
	if rep.ProjectionDigest, err = s.ProjectionDigest(ctx); err != nil {
		return StatusReport{}, err
	}
	if rep.Health, err = s.CheckHealth(ctx); err != nil {
		return StatusReport{}, err
	}

	groups := []struct {
		column string
		dest   *[]KindCount
	}{
		{"kind", &rep.Cards.ByKind},
		{"status", &rep.Cards.ByStatus},
		{"scope_tier", &rep.Cards.ByScopeTier},
	}
	for _, g := range groups {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
			"SELECT %s, COUNT(*) FROM cards GROUP BY %s ORDER BY %s",
			g.column, g.column, g.column))
		if err != nil {
			return StatusReport{}, err
		}
		counts := []KindCount{}
		for rows.Next() {
			var kc KindCount
			if err := rows.Scan(&kc.Key, &kc.Count); err != nil {
				rows.Close()
				return StatusReport{}, err
			}
			counts = append(counts, kc)
		}
		if err := rows.Close(); err != nil {
			return StatusReport{}, err
		}
		*g.dest = counts
	}

	if rep.ConsolidationTrend, err = s.ConsolidationTrend(ctx, days); err != nil {
		return StatusReport{}, err
	}
	if rep.RetrievalWindow, err = s.RetrievalWindowMetrics(ctx, days); err != nil {
		return StatusReport{}, err
	}
	if rep.Utility, err = s.UtilitySummary(ctx); err != nil {
		return StatusReport{}, err
	}
	return rep, nil
}

// outcomeRateWindow measures terminal outcome success in a window
// [now-window-offset, now-offset).
type outcomeRateWindow struct {
	WindowDays  int      `json:"window_days"`
	OffsetDays  int      `json:"offset_days"`
	Total       int      `json:"total"`
	Positive    int      `json:"positive"`
	SuccessRate *float64 `json:"success_rate"`
}

func (s *Store) outcomeRate(ctx context.Context, windowDays, offsetDays int) (outcomeRateWindow, error) {
	w := outcomeRateWindow{WindowDays: windowDays, OffsetDays: offsetDays}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN outcome_type IN ('tool_success','user_confirmed_helpful') THEN 1 ELSE 0 END), 0),
		       COUNT(*)
		FROM outcomes
		WHERE created_at >= datetime('now', ?)
		  AND created_at < datetime('now', ?)
		  AND outcome_type IN ('tool_success','tool_failure','user_confirmed_helpful','user_corrected')`,
		fmt.Sprintf("-%d days", windowDays+offsetDays),
		fmt.Sprintf("-%d days", offsetDays)).
		Scan(&w.Positive, &w.Total)
	if err != nil {
		return outcomeRateWindow{}, err
	}
	if w.Total > 0 {
		r := round4(float64(w.Positive) / float64(w.Total))
		w.SuccessRate = &r
	}
	return w, nil
}

// GateMetrics carries the raw numbers behind a gate evaluation.
type GateMetrics struct {
	Retrieval         WindowMetrics     `json:"retrieval"`
	ActiveCards       int               `json:"active_cards"`
	Admitted7d        int               `json:"admitted_7d"`
	Retired7d         int               `json:"retired_7d"`
	NetGrowth7d       int               `json:"net_growth_7d"`
	AllowedGrowth7d   int               `json:"allowed_growth_7d"`
	SuccessRateRecent outcomeRateWindow `json:"success_rate_recent"`
	SuccessRatePrior  outcomeRateWindow `json:"success_rate_prior"`
	Improvement       *float64          `json:"improvement"`
	Events7d          int               `json:"events_7d"`
}

// GateReport is the readiness evaluation result.
type GateReport struct {
	WindowDays            int                `json:"window_days"`
	RetrievalStability    bool               `json:"retrieval_stability"`
	StoreBoundedness      bool               `json:"store_boundedness"`
	UtilityPlateau        bool               `json:"utility_plateau"`
	EventVolumeSufficient bool               `json:"event_volume_sufficient"`
	Ready                 bool               `json:"ready_for_causal_instrumentation"`
	Metrics               GateMetrics        `json:"metrics"`
	Thresholds            map[string]float64 `json:"thresholds"`
}

// EvaluateGates checks whether retrieval quality is stable, store
// growth is bounded, utility has plateaued, and event volume is high
// enough for causal instrumentation to be worth turning on.
func (s *Store) EvaluateGates(ctx context.Context, days int) (GateReport, error) {
	if days <= 0 {
		days = DefaultTrendDays
	}
	retrieval, err := s.RetrievalWindowMetrics(ctx, days)
	if err != nil {
		return GateReport{}, err
	}

	retrievalStability := retrieval.EvaluatedEpisodes >= gateMinSampleEpisodes &&
		retrieval.PrecisionProxy != nil && *retrieval.PrecisionProxy >= gateMinPrecisionProxy &&
		retrieval.CorrectionRate != nil && *retrieval.CorrectionRate <= gateMaxCorrectionRate

	var activeCards, admitted7d, retired7d, events7d int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cards WHERE status IN ('active', 'needs_recheck')`).
		Scan(&activeCards); err != nil {
		return GateReport{}, err
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_events
		WHERE event_type = 'card_admitted'
		  AND created_at >= datetime('now', '-7 days')`).
		Scan(&admitted7d); err != nil {
		return GateReport{}, err
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_events
		WHERE event_type IN ('card_archived', 'card_deprecated', 'card_superseded')
		  AND created_at >= datetime('now', '-7 days')`).
		Scan(&retired7d); err != nil {
		return GateReport{}, err
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_events
		WHERE created_at >= datetime('now', '-7 days')`).
		Scan(&events7d); err != nil {
		return GateReport{}, err
	}

	netGrowth := admitted7d - retired7d
	allowedGrowth := int(float64(activeCards) * gateMaxBoundednessGrowth)
	if allowedGrowth < gateMinAllowedGrowth {
		allowedGrowth = gateMinAllowedGrowth
	}
	storeBoundedness := netGrowth <= allowedGrowth

	half := days / 2
	if half < 1 {
		half = 1
	}
	recent, err := s.outcomeRate(ctx, half, 0)
	if err != nil {
		return GateReport{}, err
	}
	prior, err := s.outcomeRate(ctx, half, half)
	if err != nil {
		return GateReport{}, err
	}
	var improvement *float64
	if recent.SuccessRate != nil && prior.SuccessRate != nil {
		d := round4(*recent.SuccessRate - *prior.SuccessRate)
		improvement = &d
	}
	utilityPlateau := recent.Total >= gateMinSampleEpisodes &&
		prior.Total >= gateMinSampleEpisodes &&
		improvement != nil && math.Abs(*improvement) <= gatePlateauDelta

	eventVolume := events7d >= gateMinEventsSevenDays

	return GateReport{
		WindowDays:            days,
		RetrievalStability:    retrievalStability,
		StoreBoundedness:      storeBoundedness,
		UtilityPlateau:        utilityPlateau,
		EventVolumeSufficient: eventVolume,
		Ready:                 retrievalStability && storeBoundedness && utilityPlateau && eventVolume,
		Metrics: GateMetrics{
			Retrieval:         retrieval,
			ActiveCards:       activeCards,
			Admitted7d:        admitted7d,
			Retired7d:         retired7d,
			NetGrowth7d:       netGrowth,
			AllowedGrowth7d:   allowedGrowth,
			SuccessRateRecent: recent,
			SuccessRatePrior:  prior,
			Improvement:       improvement,
			Events7d:          events7d,
		},
		Thresholds: map[string]float64{
			"min_sample_episodes":          gateMinSampleEpisodes,
			"min_precision_proxy":          gateMinPrecisionProxy,
			"max_correction_rate":          gateMaxCorrectionRate,
			"max_boundedness_growth_ratio": gateMaxBoundednessGrowth,
			"plateau_delta":                gatePlateauDelta,
			"min_events_7d":                gateMinEventsSevenDays,
		},
	}, nil
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
