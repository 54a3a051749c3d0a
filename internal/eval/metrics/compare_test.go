package metrics

import (
	"math"
	"testing"

	"github.com/lehigh-university-libraries/shelfscan/internal/eval/dataset"
	"github.com/lehigh-university-libraries/shelfscan/internal/vision"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCompareShelf(t *testing.T) {
	expected := []dataset.ExpectedBook{
		{Title: "Dune", Author: "Frank Herbert"},
		{Title: "The Left Hand of Darkness", Author: "Ursula K. Le Guin"},
		{Title: "Beloved", Author: "Toni Morrison"},
	}
	detected := []vision.Book{
		{Title: "DUNE", Author: "Frank Herbert"},
		{Title: "The Left Hand of Darkmess", Author: "Le Guin"},
		{Title: "Cookbook"},
	}

	cmp := CompareShelf(expected, detected)

	if cmp.TruePositives != 2 || cmp.FalsePositives != 1 || cmp.FalseNegatives != 1 {
		t.Fatalf("Unexpected counts: %s", cmp)
	}
	if !approx(cmp.Precision, 2.0/3) || !approx(cmp.Recall, 2.0/3) || !approx(cmp.F1, 2.0/3) {
		t.Errorf("Unexpected scores: %s", cmp)
	}
	if cmp.Matches[0].Title.Method != "exact" {
		t.Errorf("Expected exact title match, got %s", cmp.Matches[0].Title.Method)
	}
	if cmp.Matches[1].Title.Method != "fuzzy_high" {
		t.Errorf("Expected fuzzy title match, got %s", cmp.Matches[1].Title.Method)
	}
	if cmp.Matches[1].Author.Method != "substring" {
		t.Errorf("Expected substring author match, got %s", cmp.Matches[1].Author.Method)
	}
	if cmp.Matches[2].Detected != nil {
		t.Errorf("Expected Beloved to be missed, got %+v", cmp.Matches[2].Detected)
	}
	if len(cmp.Extra) != 1 || cmp.Extra[0].Title != "Cookbook" {
		t.Errorf("Unexpected extra spines: %+v", cmp.Extra)
	}
}

func TestCompareShelfOneToOne(t *testing.T) {
	expected := []dataset.ExpectedBook{{Title: "Emma"}}
	detected := []vision.Book{{Title: "Emma"}, {Title: "emma"}}

	cmp := CompareShelf(expected, detected)

	if cmp.TruePositives != 1 || cmp.FalsePositives != 1 {
		t.Errorf("Duplicate spine should count once: %s", cmp)
	}
	if !approx(cmp.Recall, 1) || !approx(cmp.Precision, 0.5) {
		t.Errorf("Unexpected scores: %s", cmp)
	}
}

func TestCompareShelfPrefersBestMatch(t *testing.T) {
	expected := []dataset.ExpectedBook{{Title: "Dune Messiah"}, {Title: "Dune"}}
	detected := []vision.Book{{Title: "Dune"}, {Title: "Dune Messiah"}}

	cmp := CompareShelf(expected, detected)

	if cmp.TruePositives != 2 {
		t.Fatalf("Expected both matched: %s", cmp)
	}
	for _, m := range cmp.Matches {
		if m.Title.Method != "exact" {
			t.Errorf("Expected exact pairing for %q, got %s with %q", m.Expected.Title, m.Title.Method, m.Detected.Title)
		}
	}
}

func TestCompareShelfEmpty(t *testing.T) {
	tests := []struct {
		name     string
		expected []dataset.ExpectedBook
		detected []vision.Book
		wantF1   float64
	}{
		{"both empty", nil, nil, 1},
		{"nothing detected", []dataset.ExpectedBook{{Title: "Emma"}}, nil, 0},
		{"nothing expected", nil, []vision.Book{{Title: "Emma"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp := CompareShelf(tt.expected, tt.detected)
			if !approx(cmp.F1, tt.wantF1) {
				t.Errorf("Expected F1 %.2f, got %s", tt.wantF1, cmp)
			}
		})
	}
}

func TestCompareField(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		method   string
		minScore float64
	}{
		{"exact ignoring case and punctuation", "Dune!", "dune", "exact", 1},
		{"substring", "The Hobbit, or There and Back Again", "The Hobbit", "substring", 0.8},
		{"one typo", "Middlemarch", "Midlemarch", "fuzzy_high", 0.9},
		{"unrelated", "Dune", "Emma", "no_match", 0},
		{"missing actual", "Dune", "", "actual_missing", 0},
		{"missing expected", "", "Dune", "expected_missing", 0},
		{"both missing", "", "", "both_missing", 0},
		{"accents kept", "Les Misérables", "les miserables", "fuzzy_high", 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := compareField(tt.expected, tt.actual)
			if m.Method != tt.method {
				t.Errorf("Expected method %s, got %s (score %.2f)", tt.method, m.Method, m.Score)
			}
			if m.Score < tt.minScore {
				t.Errorf("Expected score >= %.2f, got %.2f", tt.minScore, m.Score)
			}
		})
	}
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		s1, s2 string
		want   int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"émile", "emile", 1},
	}
	for _, tt := range tests {
		if got := levenshteinDistance([]rune(tt.s1), []rune(tt.s2)); got != tt.want {
			t.Errorf("levenshteinDistance(%q, %q) = %d, want %d", tt.s1, tt.s2, got, tt.want)
		}
	}
}
