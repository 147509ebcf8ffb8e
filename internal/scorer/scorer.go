// Package scorer decides whether decoded text is plausibly genuine.
//
// Two signals are produced for every string: a normalized Shannon entropy
// used for ranking, and a lexical "looks like text" verdict. Entropy alone
// cannot separate text from noise for short strings, so the verdict checks
// cheap structural properties (alphanumeric density, control characters,
// repetition) that hold up even on a handful of characters.
package scorer

import (
	"math"
	"unicode/utf8"
)

// ShortTextEntropy is returned by NormalizedEntropy for strings too short
// to have a meaningful frequency distribution. It is neutral rather than
// maximal so short tokens are not pushed to the bottom of a ranking.
const ShortTextEntropy = 0.5

// minEntropyLen is the shortest string NormalizedEntropy measures.
const minEntropyLen = 3

// Thresholds are the tunable knobs of LooksLikeText.
type Thresholds struct {
	// MinLen is the shortest accepted string, in characters.
	MinLen int `json:"min_len" yaml:"min_len"`
	// MinAlnumRatio is the fraction of ASCII letters and digits required.
	MinAlnumRatio float64 `json:"min_alnum_ratio" yaml:"min_alnum_ratio"`
	// MinAlnumCount is the absolute floor on ASCII letters and digits.
	MinAlnumCount int `json:"min_alnum_count" yaml:"min_alnum_count"`
	// MaxEntropyBits rejects strings above this many raw bits per character.
	MaxEntropyBits float64 `json:"max_entropy_bits" yaml:"max_entropy_bits"`
	// MaxSymbolRun rejects this many consecutive non-alphanumerics.
	MaxSymbolRun int `json:"max_symbol_run" yaml:"max_symbol_run"`
	// MaxSymbolRepeat rejects one non-alphanumeric repeated this many times.
	MaxSymbolRepeat int `json:"max_symbol_repeat" yaml:"max_symbol_repeat"`
	// MaxIdenticalRun rejects this many identical characters in a row unless
	// letters make up at least RunLetterRatio of the string.
	MaxIdenticalRun int     `json:"max_identical_run" yaml:"max_identical_run"`
	RunLetterRatio  float64 `json:"run_letter_ratio" yaml:"run_letter_ratio"`
}

// DefaultThresholds returns the stock verdict settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinLen:          3,
		MinAlnumRatio:   0.4,
		MinAlnumCount:   2,
		MaxEntropyBits:  5.5,
		MaxSymbolRun:    3,
		MaxSymbolRepeat: 5,
		MaxIdenticalRun: 6,
		RunLetterRatio:  0.3,
	}
}

// Score carries both signals for one string.
type Score struct {
	Entropy    float64 `json:"entropy"`
	Bits       float64 `json:"bits"`
	LooksLike  bool    `json:"looks_like_text"`
	Characters int     `json:"characters"`
}

// Verdict measures s against th.
func Verdict(s string, th Thresholds) Score {
	return Score{
		Entropy:    NormalizedEntropy(s),
		Bits:       Entropy(s),
		LooksLike:  LooksLikeText(s, th),
		Characters: utf8.RuneCountInString(s),
	}
}

// Entropy returns the Shannon entropy of the character distribution of s
// in bits per character.
func Entropy(s string) float64 {
	entropy, _ := entropyAndLen(s)
	return entropy
}

// NormalizedEntropy scales Entropy into [0, 1] by the largest entropy a
// string of that length could reach over a byte-sized alphabet:
// log2(min(len, 256)). One repeated character scores 0, uniformly random
// text approaches 1.
func NormalizedEntropy(s string) float64 {
	entropy, n := entropyAndLen(s)
	if n < minEntropyLen {
		return ShortTextEntropy
	}
	norm := entropy / math.Log2(math.Min(float64(n), 256))
	// alphabets wider than 256 symbols can exceed the byte-sized ceiling
	return math.Min(norm, 1)
}

func entropyAndLen(s string) (float64, int) {
	if s == "" {
		return 0, 0
	}
	counts := make(map[rune]int)
	// summed in first-seen order so equal inputs give bit-identical scores
	var order []rune
	n := 0
	for _, r := range s {
		if counts[r] == 0 {
			order = append(order, r)
		}
		counts[r]++
		n++
	}
	total := float64(n)
	var entropy float64
	for _, r := range order {
		p := float64(counts[r]) / total
		entropy -= p * math.Log2(p)
	}
	return entropy, n
}
