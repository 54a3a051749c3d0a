package metrics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lehigh-university-libraries/shelfscan/internal/eval/dataset"
	"github.com/lehigh-university-libraries/shelfscan/internal/vision"
)

// MatchThreshold is the title score at which a detected spine counts as
// the expected book.
const MatchThreshold = 0.8

// FieldMatch is the comparison of one field of a matched pair.
type FieldMatch struct {
	Expected string  `json:"expected"`
	Actual   string  `json:"actual"`
	Score    float64 `json:"score"`  // 0.0 to 1.0
	Method   string  `json:"method"` // exact, substring, fuzzy_high, fuzzy_medium, no_match, *_missing
}

// BookMatch pairs an expected book with the spine it was matched to.
// Detected is nil when nothing on the shelf matched.
type BookMatch struct {
	Expected dataset.ExpectedBook `json:"expected"`
	Detected *vision.Book         `json:"detected,omitempty"`
	Title    FieldMatch           `json:"title"`
	Author   FieldMatch           `json:"author"`
}

// ShelfComparison scores one detection run against the labeled shelf.
type ShelfComparison struct {
	Matches        []BookMatch   `json:"matches"`
	Extra          []vision.Book `json:"extra,omitempty"`
	TruePositives  int           `json:"true_positives"`
	FalsePositives int           `json:"false_positives"`
	FalseNegatives int           `json:"false_negatives"`
	Precision      float64       `json:"precision"`
	Recall         float64       `json:"recall"`
	F1             float64       `json:"f1"`
	TitleScore     float64       `json:"title_score"`
	AuthorScore    float64       `json:"author_score"`
}

// CompareShelf matches detected spines to expected books one-to-one,
// best title score first.
func CompareShelf(expected []dataset.ExpectedBook, detected []vision.Book) *ShelfComparison {
	type candidate struct {
		exp, det int
		score    float64
	}
	var candidates []candidate
	for i, e := range expected {
		for j, d := range detected {
			if s := compareField(e.Title, d.Title).Score; s >= MatchThreshold {
				candidates = append(candidates, candidate{i, j, s})
			}
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	pairedExp := make(map[int]int)
	pairedDet := make(map[int]bool)
	for _, c := range candidates {
		if _, ok := pairedExp[c.exp]; ok || pairedDet[c.det] {
			continue
		}
		pairedExp[c.exp] = c.det
		pairedDet[c.det] = true
	}

	cmp := &ShelfComparison{Matches: make([]BookMatch, 0, len(expected))}
	var titleTotal, authorTotal float64
	authors := 0
	for i, e := range expected {
		m := BookMatch{Expected: e}
		if j, ok := pairedExp[i]; ok {
			d := detected[j]
			m.Detected = &d
			m.Title = compareField(e.Title, d.Title)
			m.Author = compareField(e.Author, d.Author)
			cmp.TruePositives++
			titleTotal += m.Title.Score
			if e.Author != "" {
				authorTotal += m.Author.Score
				authors++
			}
		} else {
			m.Title = compareField(e.Title, "")
			m.Author = compareField(e.Author, "")
			cmp.FalseNegatives++
		}
		cmp.Matches = append(cmp.Matches, m)
	}
	for j, d := range detected {
		if !pairedDet[j] {
			cmp.Extra = append(cmp.Extra, d)
			cmp.FalsePositives++
		}
	}

	cmp.Precision = ratio(cmp.TruePositives, len(detected), len(expected) == 0)
	cmp.Recall = ratio(cmp.TruePositives, len(expected), len(detected) == 0)
	cmp.F1 = f1(cmp.Precision, cmp.Recall)
	if cmp.TruePositives > 0 {
		cmp.TitleScore = titleTotal / float64(cmp.TruePositives)
	}
	if authors > 0 {
		cmp.AuthorScore = authorTotal / float64(authors)
	}
	return cmp
}

// ratio returns n/d; an empty denominator scores 1 only when the other side is empty too.
func ratio(n, d int, otherEmpty bool) float64 {
	if d == 0 {
		if otherEmpty {
			return 1
		}
		return 0
	}
	return float64(n) / float64(d)
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

func compareField(expected, actual string) FieldMatch {
	match := FieldMatch{
		Expected: expected,
		Actual:   actual,
	}

	expNorm := normalizeForComparison(expected)
	actNorm := normalizeForComparison(actual)

	switch {
	case expNorm == "" && actNorm == "":
		match.Method = "both_missing"
		return match
	case expNorm == "":
		match.Method = "expected_missing"
		return match
	case actNorm == "":
		match.Method = "actual_missing"
		return match
	case expNorm == actNorm:
		match.Score = 1.0
		match.Method = "exact"
		return match
	}

	// spines often show only the main title
	if strings.Contains(actNorm, expNorm) || strings.Contains(expNorm, actNorm) {
		match.Score = 0.8
		match.Method = "substring"
		return match
	}

	similarity := calculateSimilarity(expNorm, actNorm)
	match.Score = similarity
	switch {
	case similarity > 0.7:
		match.Method = "fuzzy_high"
	case similarity > 0.4:
		match.Method = "fuzzy_medium"
	default:
		match.Method = "no_match"
	}
	return match
}

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

func normalizeForComparison(text string) string {
	text = strings.ToLower(text)
	text = punctuation.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// calculateSimilarity turns the edit distance into a 0.0 to 1.0 ratio.
func calculateSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	r1, r2 := []rune(s1), []rune(s2)
	if len(r1) == 0 || len(r2) == 0 {
		return 0.0
	}

	maxLen := max(len(r1), len(r2))
	return 1.0 - float64(levenshteinDistance(r1, r2))/float64(maxLen)
}

func levenshteinDistance(s1, s2 []rune) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}

// String summarizes the comparison on one line.
func (c *ShelfComparison) String() string {
	return fmt.Sprintf("tp=%d fp=%d fn=%d precision=%.2f recall=%.2f f1=%.2f",
		c.TruePositives, c.FalsePositives, c.FalseNegatives, c.Precision, c.Recall, c.F1)
}
