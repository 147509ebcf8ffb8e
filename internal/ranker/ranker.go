package ranker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/RowanDark/unravel/internal/scorer"
)

// Hit is one decoded string: the candidate span it came from, the transform
// that produced it and its normalized entropy score.
type Hit struct {
	Start     int     `json:"start"`
	Len       int     `json:"len"`
	Transform string  `json:"transform"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// Caps bound the size of a ranked report.
type Caps struct {
	// Final is the maximum number of ranked hits reported.
	Final int `json:"final" yaml:"final"`
	// GoodScore is the exclusive score ceiling for the unique string list.
	GoodScore float64 `json:"good_score" yaml:"good_score"`
	// MinImportantLen is the shortest string considered likely important.
	MinImportantLen int `json:"min_important_len" yaml:"min_important_len"`
}

// DefaultCaps returns the stock report limits.
func DefaultCaps() Caps {
	return Caps{
		Final:           500,
		GoodScore:       5.0,
		MinImportantLen: 3,
	}
}

// Ranking is the ordered, deduplicated view of a set of hits.
type Ranking struct {
	// Final holds the top ranked hits, at most Caps.Final of them.
	Final []Hit
	// UniqueCount is the number of hits that survived deduplication and the
	// noise filter, before truncation.
	UniqueCount int
	// AllStrings lists every surviving text below Caps.GoodScore.
	AllStrings []string
	// LikelyImportant is the subset of AllStrings with an alphanumeric run.
	LikelyImportant []string
}

// Filename names the ranked hit file inside an output directory.
const Filename = "ranked.jsonl"

var (
	singleLower = regexp.MustCompile(`^[a-z]$`)
	alnumRun    = regexp.MustCompile(`[A-Za-z0-9]{3,}`)
)

// Final noise filter.
const (
	maxRepeatRun   = 6
	minTrimmedLen  = 3
	minAlnumToKeep = 0.3
)

// Dedupe collapses hits with identical text to the one with the lowest
// score. Ties keep the earliest hit, and groups are returned in the order
// their text first appeared.
func Dedupe(hits []Hit) []Hit {
	if len(hits) == 0 {
		return nil
	}
	bestFor := make(map[string]int, len(hits))
	order := make([]string, 0, len(hits))
	for idx, hit := range hits {
		best, ok := bestFor[hit.Text]
		if !ok {
			bestFor[hit.Text] = idx
			order = append(order, hit.Text)
			continue
		}
		if hit.Score < hits[best].Score {
			bestFor[hit.Text] = idx
		}
	}

	out := make([]Hit, 0, len(order))
	for _, text := range order {
		out = append(out, hits[bestFor[text]])
	}
	return out
}

// Keep reports whether text survives the final noise filter.
func Keep(text string) bool {
	c := scorer.Count(text)
	if c.LongestRun >= maxRepeatRun {
		return false
	}
	if len([]rune(strings.TrimSpace(text))) < minTrimmedLen {
		return false
	}
	if singleLower.MatchString(text) {
		return false
	}
	if float64(c.Alnum()) < float64(c.Chars)*minAlnumToKeep {
		return false
	}
	return true
}

// Rank deduplicates, filters and orders hits, most text-like first. Equal
// scores put raw decodes ahead of transformed ones.
func Rank(hits []Hit, caps Caps) Ranking {
	unique := Dedupe(hits)
	kept := unique[:0]
	for _, hit := range unique {
		if Keep(hit.Text) {
			kept = append(kept, hit)
		}
	}

	// Letter rotations and case flips keep entropy, so a raw string often
	// ties with its own decoded variants and with noise from other spans.
	// Raw decodes go first among equals; the rest keep discovery order.
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score < kept[j].Score
		}
		return isRaw(kept[i].Transform) && !isRaw(kept[j].Transform)
	})

	ranking := Ranking{
		Final:           truncate(kept, caps.Final),
		UniqueCount:     len(kept),
		AllStrings:      []string{},
		LikelyImportant: []string{},
	}
	for _, hit := range kept {
		if hit.Score >= caps.GoodScore {
			continue
		}
		ranking.AllStrings = append(ranking.AllStrings, hit.Text)
		if Important(hit.Text, caps.MinImportantLen) {
			ranking.LikelyImportant = append(ranking.LikelyImportant, hit.Text)
		}
	}
	return ranking
}

// Important reports whether text is long enough and carries a run of at
// least three ASCII letters or digits.
func Important(text string, minLen int) bool {
	return len([]rune(text)) >= minLen && alnumRun.MatchString(text)
}

func isRaw(transform string) bool {
	return transform == "raw" || strings.HasPrefix(transform, "raw_")
}

func truncate(hits []Hit, limit int) []Hit {
	if limit >= 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Hit, len(hits))
	copy(out, hits)
	return out
}

// WriteJSONL persists hits to a JSON Lines file at the provided path, one
// Hit per line.
func WriteJSONL(path string, hits []Hit) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("output path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ranked output: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)
	for _, entry := range hits {
		if err := encoder.Encode(entry); err != nil {
			return fmt.Errorf("encode ranked hit: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush ranked output: %w", err)
	}
	return nil
}
