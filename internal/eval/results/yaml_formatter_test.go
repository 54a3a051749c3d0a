package results

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/shelfscan/internal/eval/dataset"
	"github.com/lehigh-university-libraries/shelfscan/internal/eval/metrics"
	"github.com/lehigh-university-libraries/shelfscan/internal/vision"
)

func TestSaveAndLoad(t *testing.T) {
	detected := []vision.Book{{Title: "Dune"}, {Title: "Cookbook"}}
	agg := metrics.AggregateEvaluationResults([]metrics.EvaluationResult{
		{
			ShelfID:        "shelf-1",
			ImagePath:      "images/shelf-1.jpg",
			Detected:       detected,
			Comparison:     metrics.CompareShelf([]dataset.ExpectedBook{{Title: "Dune"}, {Title: "Emma"}}, detected),
			ProcessingTime: 1500 * time.Millisecond,
		},
		{ShelfID: "shelf-2", Error: "timeout"},
	}, "ollama", "library/qwen2.5vl:7b")

	dir := t.TempDir()
	path, err := SaveToYAML(dir, EvalConfig{Provider: "ollama", Model: "library/qwen2.5vl:7b", Timestamp: "2026-01-02_03-04-05"}, agg)
	if err != nil {
		t.Fatalf("SaveToYAML failed: %v", err)
	}
	if filepath.Base(path) != "library_qwen2.5vl_7b-2026-01-02_03-04-05.yaml" {
		t.Errorf("Unexpected file name %s", path)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.Summary.Shelves != 2 || doc.Summary.Failed != 1 || doc.Summary.TruePositives != 1 {
		t.Errorf("Unexpected summary: %+v", doc.Summary)
	}
	if len(doc.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(doc.Results))
	}
	first := doc.Results[0]
	if strings.Join(first.Missed, ",") != "Emma" || strings.Join(first.Spurious, ",") != "Cookbook" {
		t.Errorf("Unexpected shelf result: %+v", first)
	}
	if first.Seconds != 1.5 {
		t.Errorf("Expected 1.5 seconds, got %f", first.Seconds)
	}
	if doc.Results[1].Error != "timeout" {
		t.Errorf("Expected error to round trip, got %+v", doc.Results[1])
	}
}
