package scorer

import "math"

// IsAlnum reports whether r is an ASCII letter or digit.
func IsAlnum(r rune) bool {
	return IsLetter(r) || (r >= '0' && r <= '9')
}

// IsLetter reports whether r is an ASCII letter.
func IsLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

// IsControl reports control characters other than tab, line feed and
// carriage return, including the C1 range.
func IsControl(r rune) bool {
	switch {
	case r <= 0x08:
		return true
	case r == 0x0B || r == 0x0C:
		return true
	case r >= 0x0E && r <= 0x1F:
		return true
	case r >= 0x7F && r <= 0x9F:
		return true
	}
	return false
}

// Counts tallies the character classes the verdict looks at.
type Counts struct {
	Chars   int
	Letters int
	Digits  int
	Control int
	// LongestRun is the longest run of one repeated character.
	LongestRun int
	// LongestSymbolRun is the longest run of consecutive non-alphanumerics.
	LongestSymbolRun int
	// LongestSymbolRepeat is the longest run of one repeated non-alphanumeric.
	LongestSymbolRepeat int
}

// Alnum returns the number of ASCII letters and digits.
func (c Counts) Alnum() int {
	return c.Letters + c.Digits
}

// Count walks s once and collects Counts.
func Count(s string) Counts {
	var c Counts
	var prev rune
	run, symbolRun := 0, 0
	for i, r := range []rune(s) {
		c.Chars++
		switch {
		case IsLetter(r):
			c.Letters++
		case r >= '0' && r <= '9':
			c.Digits++
		}
		if IsControl(r) {
			c.Control++
		}

		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		c.LongestRun = max(c.LongestRun, run)

		if IsAlnum(r) {
			symbolRun = 0
		} else {
			symbolRun++
			c.LongestSymbolRun = max(c.LongestSymbolRun, symbolRun)
			c.LongestSymbolRepeat = max(c.LongestSymbolRepeat, run)
		}
		prev = r
	}
	return c
}

// LooksLikeText reports whether s is plausibly natural-language or
// identifier text rather than decoded noise. Every rule must pass.
func LooksLikeText(s string, th Thresholds) bool {
	c := Count(s)
	if c.Chars < th.MinLen {
		return false
	}
	if c.Control > 0 {
		return false
	}
	alnum := c.Alnum()
	if alnum == 0 {
		return false
	}
	if float64(alnum) < math.Max(float64(th.MinAlnumCount), float64(c.Chars)*th.MinAlnumRatio) {
		return false
	}
	if Entropy(s) > th.MaxEntropyBits {
		return false
	}
	if c.LongestSymbolRun >= th.MaxSymbolRun {
		return false
	}
	if c.LongestSymbolRepeat >= th.MaxSymbolRepeat {
		return false
	}
	if c.LongestRun >= th.MaxIdenticalRun && float64(c.Letters) < float64(c.Chars)*th.RunLetterRatio {
		return false
	}
	return true
}
