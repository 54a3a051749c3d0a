package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/shelfscan/internal/eval/metrics"
)

// EvalConfig is the configuration section of the eval YAML.
type EvalConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	DatasetPath string  `yaml:"datasetpath"`
	SampleSize  int     `yaml:"samplesize"`
	Timestamp   string  `yaml:"timestamp"`
}

// EvalSummary holds the run-level scores.
type EvalSummary struct {
	Shelves        int     `yaml:"shelves"`
	Failed         int     `yaml:"failed"`
	TruePositives  int     `yaml:"truepositives"`
	FalsePositives int     `yaml:"falsepositives"`
	FalseNegatives int     `yaml:"falsenegatives"`
	Precision      float64 `yaml:"precision"`
	Recall         float64 `yaml:"recall"`
	F1             float64 `yaml:"f1"`
	MacroF1        float64 `yaml:"macrof1"`
}

// EvalResult is a single shelf.
type EvalResult struct {
	Identifier string   `yaml:"identifier"`
	Image      string   `yaml:"image"`
	Error      string   `yaml:"error,omitempty"`
	Detected   []string `yaml:"detected,omitempty"`
	Missed     []string `yaml:"missed,omitempty"`
	Spurious   []string `yaml:"spurious,omitempty"`
	Precision  float64  `yaml:"precision"`
	Recall     float64  `yaml:"recall"`
	F1         float64  `yaml:"f1"`
	Seconds    float64  `yaml:"seconds"`
}

// EvalRun is the complete evaluation file.
type EvalRun struct {
	Config  EvalConfig   `yaml:"config"`
	Summary EvalSummary  `yaml:"summary"`
	Results []EvalResult `yaml:"results"`
}

// Build converts aggregate results into the YAML document.
func Build(cfg EvalConfig, agg *metrics.AggregateResults) EvalRun {
	doc := EvalRun{
		Config: cfg,
		Summary: EvalSummary{
			Shelves:        agg.TotalShelves,
			Failed:         agg.FailureCount,
			TruePositives:  agg.TruePositives,
			FalsePositives: agg.FalsePositives,
			FalseNegatives: agg.FalseNegatives,
			Precision:      agg.Precision,
			Recall:         agg.Recall,
			F1:             agg.F1,
			MacroF1:        agg.MacroF1,
		},
		Results: make([]EvalResult, 0, len(agg.Results)),
	}

	for _, r := range agg.Results {
		res := EvalResult{
			Identifier: r.ShelfID,
			Image:      r.ImagePath,
			Error:      r.Error,
			Seconds:    r.ProcessingTime.Seconds(),
		}
		for _, d := range r.Detected {
			res.Detected = append(res.Detected, d.Title)
		}
		if c := r.Comparison; c != nil {
			res.Precision, res.Recall, res.F1 = c.Precision, c.Recall, c.F1
			for _, m := range c.Matches {
				if m.Detected == nil {
					res.Missed = append(res.Missed, m.Expected.Title)
				}
			}
			for _, d := range c.Extra {
				res.Spurious = append(res.Spurious, d.Title)
			}
		}
		doc.Results = append(doc.Results, res)
	}
	return doc
}

// SaveToYAML writes the evaluation under dir and returns the file path.
func SaveToYAML(dir string, cfg EvalConfig, agg *metrics.AggregateResults) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", dir, err)
	}
	if cfg.Timestamp == "" {
		cfg.Timestamp = time.Now().Format("2006-01-02_15-04-05")
	}

	data, err := yaml.Marshal(Build(cfg, agg))
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}

	// model names like "library/model:tag" are not valid file names
	name := strings.NewReplacer("/", "_", ":", "_").Replace(cfg.Model)
	filename := filepath.Join(dir, fmt.Sprintf("%s-%s.yaml", name, cfg.Timestamp))
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write YAML file: %w", err)
	}

	return filepath.Abs(filename)
}

// Load reads a file written by SaveToYAML.
func Load(path string) (*EvalRun, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	var doc EvalRun
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}
	return &doc, nil
}
