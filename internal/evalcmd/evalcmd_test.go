package evalcmd

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lehigh-university-libraries/shelfscan/internal/config"
	"github.com/lehigh-university-libraries/shelfscan/internal/vision"
)

type scriptedDetector struct {
	mu      sync.Mutex
	byWidth map[int][]vision.Book
	calls   int
}

// Detect answers by image width so each shelf gets its own spines.
func (d *scriptedDetector) Detect(_ context.Context, data []byte, _ string) ([]vision.Book, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	books, ok := d.byWidth[cfg.Width]
	if !ok {
		return nil, errors.New("vision provider unavailable")
	}
	return books, nil
}

func writePNG(t *testing.T, path string, width int) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, 10))))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestExecuteRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "images"), 0755))
	writePNG(t, filepath.Join(dir, "images", "a.png"), 10)
	writePNG(t, filepath.Join(dir, "images", "b.png"), 20)
	labels := `{"id":"a","image_path":"images/a.png","books":[{"title":"Dune"},{"title":"Emma"}]}
{"id":"b","image_path":"images/b.png","books":[{"title":"Beloved"}]}
{"id":"c","image_path":"images/missing.png","books":[{"title":"Ulysses"}]}
`
	datasetPath := filepath.Join(dir, "labels.jsonl")
	require.NoError(t, os.WriteFile(datasetPath, []byte(labels), 0644))

	detector := &scriptedDetector{byWidth: map[int][]vision.Book{
		10: {{Title: "Dune"}, {Title: "Emma"}},
		20: {{Title: "Beloved"}, {Title: "Cookbook"}},
	}}
	cfg := &config.Config{
		LLM:      config.LLMConfig{Provider: "ollama", VisionModel: "qwen2.5vl"},
		Pipeline: config.PipelineConfig{MaxUploadBytes: 1 << 20, DetectionTimeout: time.Second},
	}
	outDir := filepath.Join(dir, "evals")
	reportPath := filepath.Join(dir, "report.txt")

	var out bytes.Buffer
	err := executeRun(context.Background(), cfg, detector, runOptions{
		datasetPath:  datasetPath,
		sampleSize:   -1,
		concurrency:  2,
		outputDir:    outDir,
		outputReport: reportPath,
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, 2, detector.calls)
	assert.Contains(t, out.String(), "Total Shelves: 3")
	assert.Contains(t, out.String(), "Matched: 3")

	saved, err := filepath.Glob(filepath.Join(outDir, "qwen2.5vl-*.yaml"))
	require.NoError(t, err)
	require.Len(t, saved, 1)

	var report bytes.Buffer
	require.NoError(t, executeReport(saved[0], "text", &report))
	assert.Contains(t, report.String(), "Shelves:   3 (1 failed)")
	assert.Contains(t, report.String(), "Spurious: Cookbook")
	assert.Contains(t, report.String(), "failed to read image")

	var csvOut bytes.Buffer
	require.NoError(t, executeReport(saved[0], "csv", &csvOut))
	lines := strings.Split(strings.TrimSpace(csvOut.String()), "\n")
	assert.Len(t, lines, 4)

	detail, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(detail), "SPURIOUS  Cookbook")

	assert.Error(t, executeReport(saved[0], "xml", &bytes.Buffer{}))
}

func TestExecuteRunEmptyDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	err := executeRun(context.Background(), &config.Config{}, &scriptedDetector{}, runOptions{datasetPath: path, sampleSize: -1}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "no shelves")
}
