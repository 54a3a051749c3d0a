package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/shelfscan/internal/vision"
)

// EvaluationResult is the outcome for one shelf.
type EvaluationResult struct {
	ShelfID        string           `json:"shelf_id"`
	ImagePath      string           `json:"image_path"`
	Detected       []vision.Book    `json:"detected,omitempty"`
	Comparison     *ShelfComparison `json:"comparison,omitempty"`
	ProcessingTime time.Duration    `json:"processing_time"`
	Error          string           `json:"error,omitempty"` // detection failed
}

// AggregateResults rolls shelf comparisons up into run-level scores.
type AggregateResults struct {
	TotalShelves int `json:"total_shelves"`
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`

	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`

	// micro scores pool every spine; macro scores average shelves
	Precision   float64 `json:"precision"`
	Recall      float64 `json:"recall"`
	F1          float64 `json:"f1"`
	MacroF1     float64 `json:"macro_f1"`
	TitleScore  float64 `json:"title_score"`
	AuthorScore float64 `json:"author_score"`

	AverageProcessingTime time.Duration `json:"average_processing_time"`
	TotalProcessingTime   time.Duration `json:"total_processing_time"`

	Results []EvaluationResult `json:"results"`

	EvaluationDate time.Time `json:"evaluation_date"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
}

// AggregateEvaluationResults combines per-shelf results.
func AggregateEvaluationResults(results []EvaluationResult, provider, model string) *AggregateResults {
	agg := &AggregateResults{
		TotalShelves:   len(results),
		Results:        results,
		EvaluationDate: time.Now(),
		Provider:       provider,
		Model:          model,
	}

	var (
		f1Scores, titleScores, authorScores []float64
		successDuration                     time.Duration
	)
	for _, result := range results {
		agg.TotalProcessingTime += result.ProcessingTime

		if result.Error != "" || result.Comparison == nil {
			agg.FailureCount++
			continue
		}
		agg.SuccessCount++
		successDuration += result.ProcessingTime

		c := result.Comparison
		agg.TruePositives += c.TruePositives
		agg.FalsePositives += c.FalsePositives
		agg.FalseNegatives += c.FalseNegatives
		f1Scores = append(f1Scores, c.F1)
		if c.TruePositives > 0 {
			titleScores = append(titleScores, c.TitleScore)
		}
		if c.AuthorScore > 0 {
			authorScores = append(authorScores, c.AuthorScore)
		}
	}

	if agg.SuccessCount > 0 {
		tp := agg.TruePositives
		agg.Precision = ratio(tp, tp+agg.FalsePositives, tp+agg.FalseNegatives == 0)
		agg.Recall = ratio(tp, tp+agg.FalseNegatives, tp+agg.FalsePositives == 0)
		agg.F1 = f1(agg.Precision, agg.Recall)
		agg.MacroF1 = calculateAverage(f1Scores)
		agg.TitleScore = calculateAverage(titleScores)
		agg.AuthorScore = calculateAverage(authorScores)
		agg.AverageProcessingTime = successDuration / time.Duration(agg.SuccessCount)
	}

	return agg
}

func calculateAverage(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// PrintSummary writes a human-readable summary.
func (a *AggregateResults) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 70))
	fmt.Fprintln(w, "SHELF DETECTION EVALUATION SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 70))
	fmt.Fprintf(w, "Evaluation Date: %s\n", a.EvaluationDate.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Provider: %s\n", a.Provider)
	fmt.Fprintf(w, "Model: %s\n", a.Model)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "PROCESSING STATISTICS")
	fmt.Fprintln(w, strings.Repeat("-", 70))
	fmt.Fprintf(w, "Total Shelves: %d\n", a.TotalShelves)
	fmt.Fprintf(w, "Successful: %d (%.1f%%)\n", a.SuccessCount, percent(a.SuccessCount, a.TotalShelves))
	fmt.Fprintf(w, "Failed: %d (%.1f%%)\n", a.FailureCount, percent(a.FailureCount, a.TotalShelves))
	fmt.Fprintf(w, "Average Processing Time: %s\n", a.AverageProcessingTime)
	fmt.Fprintf(w, "Total Processing Time: %s\n", a.TotalProcessingTime)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "SPINE ACCURACY")
	fmt.Fprintln(w, strings.Repeat("-", 70))
	fmt.Fprintf(w, "Matched: %d  Missed: %d  Spurious: %d\n", a.TruePositives, a.FalseNegatives, a.FalsePositives)
	fmt.Fprintf(w, "Precision: %.2f%%\n", a.Precision*100)
	fmt.Fprintf(w, "Recall: %.2f%%\n", a.Recall*100)
	fmt.Fprintf(w, "F1: %.3f (macro %.3f)\n", a.F1, a.MacroF1)
	fmt.Fprintf(w, "Title Score: %.3f\n", a.TitleScore)
	fmt.Fprintf(w, "Author Score: %.3f\n", a.AuthorScore)
	fmt.Fprintln(w, strings.Repeat("=", 70))
}

// SaveToJSON writes the aggregate results to path.
func (a *AggregateResults) SaveToJSON(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(a); err != nil {
		return fmt.Errorf("failed to encode results to JSON: %w", err)
	}
	return nil
}

// SaveDetailedReport writes every shelf with its misses and spurious spines.
func (a *AggregateResults) SaveDetailedReport(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	fmt.Fprintf(file, "SHELF DETECTION DETAILED REPORT\n")
	fmt.Fprintf(file, "Generated: %s\n", a.EvaluationDate.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(file, "Provider: %s, Model: %s\n", a.Provider, a.Model)
	separator := strings.Repeat("=", 80)
	fmt.Fprintf(file, "%s\n\n", separator)

	dash := strings.Repeat("-", 80)
	for i, result := range a.Results {
		fmt.Fprintf(file, "SHELF %d: %s\n", i+1, result.ShelfID)
		fmt.Fprintf(file, "%s\n", dash)
		fmt.Fprintf(file, "Image: %s\n", result.ImagePath)
		fmt.Fprintf(file, "Processing Time: %s\n", result.ProcessingTime)

		if result.Error != "" {
			fmt.Fprintf(file, "ERROR: %s\n", result.Error)
		} else if c := result.Comparison; c != nil {
			fmt.Fprintf(file, "%s\n\n", c)
			for _, m := range c.Matches {
				if m.Detected == nil {
					fmt.Fprintf(file, "  MISSED    %s / %s\n", m.Expected.Title, m.Expected.Author)
					continue
				}
				fmt.Fprintf(file, "  %-9s %s -> %s (%.2f)\n", m.Title.Method, m.Expected.Title, m.Detected.Title, m.Title.Score)
			}
			for _, d := range c.Extra {
				fmt.Fprintf(file, "  SPURIOUS  %s / %s\n", d.Title, d.Author)
			}
		}

		fmt.Fprintf(file, "\n%s\n\n", separator)
	}
	return nil
}
