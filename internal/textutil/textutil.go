// Package textutil implements the lexical primitives consolidation and
// retrieval share: tokenization, statement normalization, and the two
// text similarity measures used by the novelty gates.
package textutil

import (
	"math"
	"regexp"
	"strings"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "but": true, "by": true, "for": true,
	"from": true, "has": true, "have": true, "if": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "to": true, "was": true, "were": true,
	"with": true, "you": true, "your": true, "i": true, "we": true,
	"this": true, "those": true, "these": true,
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)
var spaceRe = regexp.MustCompile(`\s+`)

// Tokenize lowercases text and returns its alphanumeric tokens with
// stopwords removed.
func Tokenize(text string) []string {
	raw := tokenRe.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

// NormalizeStatement collapses whitespace and truncates to maxLen.
// Candidate statements and card statements are always compared in this
// form.
func NormalizeStatement(text string, maxLen int) string {
	text = spaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	if maxLen > 3 && len(text) > maxLen {
		return text[:maxLen-3] + "..."
	}
	return text
}

// Jaccard computes token-set overlap between two statements.
func Jaccard(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}

// TokenCosine computes cosine similarity over token count vectors.
func TokenCosine(a, b string) float64 {
	ca := tokenCounts(a)
	cb := tokenCounts(b)
	if len(ca) == 0 || len(cb) == 0 {
		return 0.0
	}
	var dot, na, nb float64
	for t, n := range ca {
		na += float64(n * n)
		if m, ok := cb[t]; ok {
			dot += float64(n * m)
		}
	}
	for _, m := range cb {
		nb += float64(m * m)
	}
	if na == 0 || nb == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var failureSignals = []string{
	"error", "failed", "exception", "traceback", "non-zero", "timeout", "panic",
}

// HasFailureSignal reports whether text reads like a failing tool run.
// negative_result candidates must carry one of these markers.
func HasFailureSignal(text string) bool {
	t := strings.ToLower(text)
	for _, s := range failureSignals {
		if strings.Contains(t, s) {
			return true
		}
	}
	return false
}

// TopicKey derives the diversity-grouping key for a statement: the
// first token of length >= 4, falling back to the first token, then
// "general".
func TopicKey(statement string) string {
	tokens := Tokenize(statement)
	for _, tok := range tokens {
		if len(tok) >= 4 {
			return tok
		}
	}
	if len(tokens) > 0 {
		return tokens[0]
	}
	return "general"
}

func tokenSet(text string) map[string]bool {
	out := map[string]bool{}
	for _, t := range Tokenize(text) {
		out[t] = true
	}
	return out
}

func tokenCounts(text string) map[string]int {
	out := map[string]int{}
	for _, t := range Tokenize(text) {
		out[t]++
	}
	return out
}
