// Package recommend asks a language model for new books based on a shelf
// and optional reader context.
package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lehigh-university-libraries/shelfscan/internal/models"
	"github.com/lehigh-university-libraries/shelfscan/internal/providers"
)

const (
	// Count is the number of suggestions requested per session.
	Count = 5
	// MaxSeeds caps how many detected books are described to the model.
	MaxSeeds = 5
	// MaxHistory caps how many reading-history entries are described to the model.
	MaxHistory = 10
)

// Seed is a book the reader already owns.
type Seed struct {
	Title  string
	Author string
}

type Preferences struct {
	Genres  []string
	Authors []string
	Goal    string
}

type HistoryItem struct {
	Title  string
	Author string
	Rating *int
	Status string
}

// Suggestion is one recommended book. BasedOn names the seed title that
// inspired it when the model reports one.
type Suggestion struct {
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
	BasedOn   string  `json:"based_on,omitempty"`
}

type Generator struct {
	provider    providers.Provider
	model       string
	temperature float64
}

func NewGenerator(provider providers.Provider, model string, temperature float64) *Generator {
	return &Generator{provider: provider, model: model, temperature: temperature}
}

// Recommend never fails; any provider or parse error yields an empty list.
func (g *Generator) Recommend(ctx context.Context, seeds []Seed, prefs Preferences, history []HistoryItem) []Suggestion {
	if len(seeds) > MaxSeeds {
		seeds = seeds[:MaxSeeds]
	}
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}

	response, err := g.provider.ExtractText(ctx, providers.Config{
		Model:       g.model,
		Temperature: g.temperature,
		Prompt:      BuildPrompt(seeds, prefs, history),
		JSON:        true,
	})
	if err != nil {
		slog.Warn("Recommendation request failed", "model", g.model, "err", err)
		return []Suggestion{}
	}

	suggestions, err := ParseSuggestions(response)
	if err != nil {
		slog.Warn("Unable to parse recommendation response", "model", g.model, "err", err)
		return []Suggestion{}
	}
	return Filter(suggestions, seeds)
}

// ParseSuggestions decodes {"recommendations":[...]} or a bare array.
func ParseSuggestions(response string) ([]Suggestion, error) {
	cleaned := providers.CleanJSON(response)
	if cleaned == "" {
		return nil, fmt.Errorf("empty response")
	}
	var out []Suggestion
	if strings.HasPrefix(cleaned, "[") {
		if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var envelope struct {
		Recommendations []Suggestion `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil {
		return nil, err
	}
	return envelope.Recommendations, nil
}

// Filter trims and clamps suggestions, drops untitled ones, books already on
// the shelf and duplicates, then keeps at most Count in model order.
func Filter(suggestions []Suggestion, seeds []Seed) []Suggestion {
	owned := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		owned[models.NormalizeTitle(s.Title)] = true
	}

	out := make([]Suggestion, 0, Count)
	for _, s := range suggestions {
		s.Title = strings.TrimSpace(s.Title)
		s.Author = strings.TrimSpace(s.Author)
		s.Reasoning = strings.TrimSpace(s.Reasoning)
		s.BasedOn = strings.TrimSpace(s.BasedOn)
		key := models.NormalizeTitle(s.Title)
		if key == "" || owned[key] {
			continue
		}
		owned[key] = true
		s.Score = models.Clamp01(s.Score)
		out = append(out, s)
		if len(out) == Count {
			break
		}
	}
	return out
}

// BuildPrompt renders the recommendation request.
func BuildPrompt(seeds []Seed, prefs Preferences, history []HistoryItem) string {
	var b strings.Builder
	b.WriteString("A reader photographed their bookshelf. These books were found on it:\n")
	for _, s := range seeds {
		if s.Author != "" {
			fmt.Fprintf(&b, "- %q by %s\n", s.Title, s.Author)
		} else {
			fmt.Fprintf(&b, "- %q\n", s.Title)
		}
	}

	if len(prefs.Genres) > 0 || len(prefs.Authors) > 0 || prefs.Goal != "" {
		b.WriteString("\nReader preferences:\n")
		if len(prefs.Genres) > 0 {
			fmt.Fprintf(&b, "- favorite genres: %s\n", strings.Join(prefs.Genres, ", "))
		}
		if len(prefs.Authors) > 0 {
			fmt.Fprintf(&b, "- favorite authors: %s\n", strings.Join(prefs.Authors, ", "))
		}
		if prefs.Goal != "" {
			fmt.Fprintf(&b, "- reading goal: %s\n", prefs.Goal)
		}
	}

	if len(history) > 0 {
		b.WriteString("\nRecently read:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- %q", h.Title)
			if h.Author != "" {
				fmt.Fprintf(&b, " by %s", h.Author)
			}
			if h.Rating != nil {
				fmt.Fprintf(&b, ", rated %d/5", *h.Rating)
			}
			if h.Status != "" {
				fmt.Fprintf(&b, " (%s)", h.Status)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, `
Recommend exactly %d books the reader does not already own. Do not repeat any book listed above.
For each give a score between 0 and 1 for how well it fits, a one or two sentence reasoning,
and the title of the shelf book that inspired it in based_on (or "" if none).

Respond with ONLY a JSON object:

{"recommendations": [{"title": "...", "author": "...", "score": 0.9, "reasoning": "...", "based_on": "..."}]}`, Count)
	return b.String()
}
