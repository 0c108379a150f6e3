// Package policy holds every numeric policy constant as configuration.
// The defaults are the shipped behavior; a YAML file can override any
// value. The ordering of consolidation checks (evidence -> novelty ->
// budget) is structural and lives in code, not here.
package policy

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Novelty holds the duplicate/near-duplicate similarity cutoffs.
type Novelty struct {
	DuplicateLexical float64 `mapstructure:"duplicate_lexical"`
	DuplicateCosine  float64 `mapstructure:"duplicate_cosine"`
	NearLexical      float64 `mapstructure:"near_lexical"`
	NearCosine       float64 `mapstructure:"near_cosine"`
}

// Pack holds packing caps.
type Pack struct {
	TotalCap int            `mapstructure:"total_cap"`
	SlotCaps map[string]int `mapstructure:"slot_caps"`
	TopicCap int            `mapstructure:"topic_cap"`
	// RankedSnapshotLimit bounds how many ranked candidates a pack
	// snapshot persists.
	RankedSnapshotLimit int `mapstructure:"ranked_snapshot_limit"`
	// CandidateLimit bounds the retrieval scan feeding a pack.
	CandidateLimit int `mapstructure:"candidate_limit"`
}

// Scoring holds the retrieval blend weights.
type Scoring struct {
	Lexical  float64 `mapstructure:"lexical"`
	Semantic float64 `mapstructure:"semantic"`
	Scope    float64 `mapstructure:"scope"`
	Kind     float64 `mapstructure:"kind"`
	Status   float64 `mapstructure:"status"`
	Utility  float64 `mapstructure:"utility"`
	Recency  float64 `mapstructure:"recency"`
	// RecheckMultiplier downweights needs_recheck cards on the
	// ambient channel.
	RecheckMultiplier float64 `mapstructure:"recheck_multiplier"`
}

// Expansion bounds the optional associative-expansion walk.
type Expansion struct {
	Enabled       bool    `mapstructure:"enabled"`
	Seeds         int     `mapstructure:"seeds"`
	MaxHops       int     `mapstructure:"max_hops"`
	BeamWidth     int     `mapstructure:"beam_width"`
	HopDecay      float64 `mapstructure:"hop_decay"`
	MinSimilarity float64 `mapstructure:"min_similarity"`
}

// HopCeiling is the hard limit MaxHops is clamped to regardless of
// configuration.
const HopCeiling = 3

// Attribution bounds outcome credit.
type Attribution struct {
	TopK int `mapstructure:"top_k"`
}

// Hygiene bounds the archive sweep.
type Hygiene struct {
	ArchiveAfterDays int `mapstructure:"archive_after_days"`
}

// Embedding selects the stored vector model.
type Embedding struct {
	Model string `mapstructure:"model"`
	Dims  int    `mapstructure:"dims"`
}

// Policy is the full set of tunable constants.
type Policy struct {
	Novelty           Novelty                   `mapstructure:"novelty"`
	EpisodeKindCaps   map[string]int            `mapstructure:"episode_kind_caps"`
	EpisodeSoftCap    int                       `mapstructure:"episode_soft_cap"`
	BudgetCaps        map[string]map[string]int `mapstructure:"budget_caps"`
	DisputeWeights    map[string]float64        `mapstructure:"dispute_weights"`
	DisputeThresholds map[string]float64        `mapstructure:"dispute_thresholds"`
	Pack              Pack                      `mapstructure:"pack"`
	Scoring           Scoring                   `mapstructure:"scoring"`
	Expansion         Expansion                 `mapstructure:"expansion"`
	Attribution       Attribution               `mapstructure:"attribution"`
	Hygiene           Hygiene                   `mapstructure:"hygiene"`
	Embedding         Embedding                 `mapstructure:"embedding"`
	MaxStatementLen   int                       `mapstructure:"max_statement_len"`
}

// Default returns the shipped policy.
func Default() *Policy {
	return &Policy{
		Novelty: Novelty{
			DuplicateLexical: 0.80,
			DuplicateCosine:  0.92,
			NearLexical:      0.65,
			NearCosine:       0.78,
		},
		EpisodeKindCaps: map[string]int{
			"fact":            4,
			"tactic":          2,
			"negative_result": 2,
			"preference":      2,
			"constraint":      1,
			"commitment":      1,
		},
		EpisodeSoftCap: 12,
		BudgetCaps: map[string]map[string]int{
			"repo": {
				"preference": 80, "constraint": 120, "commitment": 120,
				"fact": 300, "tactic": 120, "negative_result": 120,
			},
			"domain": {
				"preference": 40, "constraint": 60, "commitment": 60,
				"fact": 180, "tactic": 80, "negative_result": 80,
			},
			"global": {
				"preference": 20, "constraint": 30, "commitment": 30,
				"fact": 100, "tactic": 40, "negative_result": 40,
			},
		},
		DisputeWeights: map[string]float64{
			"tool_output": 1.0,
			"doc_span":    0.7,
			"user_span":   0.4,
		},
		DisputeThresholds: map[string]float64{
			"repo":   2.0,
			"domain": 3.0,
			"global": 4.0,
		},
		Pack: Pack{
			TotalCap: 8,
			SlotCaps: map[string]int{
				"constraints_commitments": 3,
				"negative_result":         2,
				"tactic":                  2,
				"fact":                    3,
			},
			TopicCap:            2,
			RankedSnapshotLimit: 100,
			CandidateLimit:      200,
		},
		Scoring: Scoring{
			Lexical:           0.35,
			Semantic:          0.25,
			Scope:             0.15,
			Kind:              0.10,
			Status:            0.10,
			Utility:           0.05,
			Recency:           0.02,
			RecheckMultiplier: 0.35,
		},
		Expansion: Expansion{
			Enabled:       false,
			Seeds:         3,
			MaxHops:       2,
			BeamWidth:     4,
			HopDecay:      0.7,
			MinSimilarity: 0.55,
		},
		Attribution: Attribution{TopK: 2},
		Hygiene:     Hygiene{ArchiveAfterDays: 30},
		Embedding:   Embedding{Model: "hash-v1", Dims: 64},
		MaxStatementLen: 280,
	}
}

// Load reads a policy file and merges it over the defaults. An empty
// path checks $MEMDECK_POLICY; a missing file means defaults.
func Load(path string) (*Policy, error) {
	if path == "" {
		path = os.Getenv("MEMDECK_POLICY")
	}
	p := Default()
	if path == "" {
		return p, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	if err := v.Unmarshal(p); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// Validate rejects configurations the engine cannot honor.
func (p *Policy) Validate() error {
	if p.Pack.TotalCap <= 0 {
		return fmt.Errorf("pack.total_cap must be positive")
	}
	if p.Pack.TopicCap <= 0 {
		return fmt.Errorf("pack.topic_cap must be positive")
	}
	if p.Attribution.TopK <= 0 {
		return fmt.Errorf("attribution.top_k must be positive")
	}
	if p.MaxStatementLen < 16 {
		return fmt.Errorf("max_statement_len too small")
	}
	for tier, kinds := range p.BudgetCaps {
		for kind, cap := range kinds {
			if cap <= 0 {
				return fmt.Errorf("budget_caps.%s.%s must be positive", tier, kind)
			}
		}
	}
	if p.Expansion.MaxHops > HopCeiling {
		p.Expansion.MaxHops = HopCeiling
	}
	return nil
}
