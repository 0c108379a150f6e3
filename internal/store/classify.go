package store

import (
	"strings"

	"github.com/tkwade/memdeck/internal/model"
	"github.com/tkwade/memdeck/internal/policy"
	"github.com/tkwade/memdeck/internal/textutil"
)

// Classifier maps one evidence excerpt to a card kind during candidate
// generation. Implementations are untrusted: the consolidation gates
// validate every proposal regardless of what the classifier returns,
// and an unknown kind falls back to fact.
type Classifier interface {
	ClassifyKind(refKind, statement string) string
}

// RuleClassifier is the default keyword classifier. It only looks at
// the evidence kind and surface phrasing, never at prior cards.
type RuleClassifier struct{}

// NewRuleClassifier returns the default classifier. The policy is
// accepted for parity with configurable implementations.
func NewRuleClassifier(_ *policy.Policy) *RuleClassifier {
	return &RuleClassifier{}
}

var (
	preferenceHints = []string{"prefer", "i like", "please use", "verbosity"}
	constraintHints = []string{"must", "do not", "don't", "never", "always", "only"}
	commitmentHints = []string{"i will", "i'll", "we will", "plan to", "going to"}
	tacticHints     = []string{"run ", "command", "steps", "procedure", "workflow"}
	docTacticHints  = []string{"run ", "steps", "procedure", "how to"}
)

func containsAny(text string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}

func (RuleClassifier) ClassifyKind(refKind, statement string) string {
	low := strings.ToLower(statement)
	switch refKind {
	case model.RefUserSpan:
		switch {
		case containsAny(low, preferenceHints):
			return model.KindPreference
		case containsAny(low, constraintHints):
			return model.KindConstraint
		case containsAny(low, commitmentHints):
			return model.KindCommitment
		}
	case model.RefToolOutput:
		switch {
		case textutil.HasFailureSignal(low):
			return model.KindNegativeResult
		case containsAny(low, tacticHints):
			return model.KindTactic
		}
	case model.RefDocSpan:
		if containsAny(low, docTacticHints) {
			return model.KindTactic
		}
	}
	return model.KindFact
}
