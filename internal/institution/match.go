// Package institution matches free-text institution names, such as those
// typed by inspectors, against registered equipment owners.
package institution

import (
	"sort"
	"strings"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// MatchTier is a coarse confidence bucket for a similarity score.
type MatchTier string

const (
	TierExact  MatchTier = "exact"
	TierHigh   MatchTier = "high"
	TierMedium MatchTier = "medium"
	TierLow    MatchTier = "low"
	TierNone   MatchTier = "none"
)

var tierThresholds = []struct {
	min  float64
	tier MatchTier
}{
	{0.95, TierExact},
	{0.85, TierHigh},
	{0.70, TierMedium},
	{0.50, TierLow},
}

// legal-form words that carry no identity
var noiseWords = []string{"(주)", "㈜", "주식회사", "(재)", "재단법인", "(사)", "사단법인", "(의)", "의료법인"}

// Normalize lowercases, strips legal-form words, punctuation and all spaces.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	for _, w := range noiseWords {
		s = strings.ReplaceAll(s, w, "")
	}
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dice compares character bigrams.
var dice = func() *metrics.SorensenDice {
	m := metrics.NewSorensenDice()
	m.NgramSize = 2
	return m
}()

// Similarity returns the Sørensen-Dice coefficient over character bigrams of
// the normalized names, in [0, 1].
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	return strutil.Similarity(na, nb, dice)
}

// ClassifyMatch buckets a similarity score.
func ClassifyMatch(score float64) MatchTier {
	for _, t := range tierThresholds {
		if score >= t.min {
			return t.tier
		}
	}
	return TierNone
}

// Candidate is one scored match.
type Candidate struct {
	Name  string    `json:"name"`
	Score float64   `json:"score"`
	Tier  MatchTier `json:"tier"`
}

// Rank scores every name against query and returns the candidates at or
// above minTier, best first. Ties keep the input order.
func Rank(query string, names []string, minTier MatchTier) []Candidate {
	floor := tierFloor(minTier)
	out := make([]Candidate, 0)
	for _, n := range names {
		score := Similarity(query, n)
		if score < floor {
			continue
		}
		out = append(out, Candidate{Name: n, Score: score, Tier: ClassifyMatch(score)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func tierFloor(t MatchTier) float64 {
	for _, th := range tierThresholds {
		if th.tier == t {
			return th.min
		}
	}
	return 0
}
