// Package locator proposes byte spans that are likely to hold encoded text
// inside an opaque buffer.
//
// Three independent heuristics feed a single deduplicated candidate set:
//   - maximal runs of printable or structurally valid UTF-8 bytes
//   - consecutive 32-bit little-endian (pointer, length) word pairs
//   - 16-bit little-endian length prefixes with a small low byte
//
// Every scan carries its own work cap so the total cost stays linear in the
// buffer size no matter how much the heuristics overlap.
package locator

import (
	"encoding/binary"
	"fmt"
)

// Candidate is a hypothesised byte span. Identity is the (Start, Len) pair.
type Candidate struct {
	Start int `json:"start"`
	Len   int `json:"len"`
}

// End returns the exclusive end offset of the span.
func (c Candidate) End() int {
	return c.Start + c.Len
}

func (c Candidate) String() string {
	return fmt.Sprintf("%d_%d", c.Start, c.Len)
}

// Limits bounds the work performed by Locate.
type Limits struct {
	MinLen        int `json:"min_len" yaml:"min_len"`
	MaxLen        int `json:"max_len" yaml:"max_len"`
	MaxCandidates int `json:"max_candidates" yaml:"max_candidates"`
	// MaxPointerWords caps how many 32-bit words the pointer scan visits.
	MaxPointerWords int `json:"max_pointer_words" yaml:"max_pointer_words"`
	// MaxPrefixScan caps how many byte positions the length-prefix scan visits.
	MaxPrefixScan int `json:"max_prefix_scan" yaml:"max_prefix_scan"`
}

// DefaultLimits returns the stock bounds.
func DefaultLimits() Limits {
	return Limits{
		MinLen:          3,
		MaxLen:          8192,
		MaxCandidates:   8000,
		MaxPointerWords: 500000,
		MaxPrefixScan:   300000,
	}
}

// Validate reports limits that would make the scans meaningless.
func (l Limits) Validate() error {
	if l.MinLen < 1 {
		return fmt.Errorf("min_len must be positive, got %d", l.MinLen)
	}
	if l.MaxLen < l.MinLen {
		return fmt.Errorf("max_len %d is below min_len %d", l.MaxLen, l.MinLen)
	}
	if l.MaxCandidates < 0 || l.MaxPointerWords < 0 || l.MaxPrefixScan < 0 {
		return fmt.Errorf("scan caps must not be negative")
	}
	return nil
}

func (l Limits) inBounds(n int) bool {
	return n >= l.MinLen && n <= l.MaxLen
}

// set keeps candidates unique while preserving discovery order.
type set struct {
	seen  map[Candidate]struct{}
	order []Candidate
}

func newSet() *set {
	return &set{seen: make(map[Candidate]struct{})}
}

func (s *set) add(c Candidate) {
	if _, ok := s.seen[c]; ok {
		return
	}
	s.seen[c] = struct{}{}
	s.order = append(s.order, c)
}

// Locate runs every scan over buf and returns at most lim.MaxCandidates
// unique candidates in discovery order.
func Locate(buf []byte, lim Limits) []Candidate {
	s := newSet()
	scanRuns(buf, lim, s)
	scanPointers(buf, lim, s)
	scanPrefixes(buf, lim, s)

	out := s.order
	if len(out) > lim.MaxCandidates {
		out = out[:lim.MaxCandidates]
	}
	return out
}

// InRun reports whether b may belong to a text run. Printable ASCII is the
// common case, but any ASCII byte and any UTF-8 lead byte in 192..254 is
// tolerated so that multi-byte text and embedded separators stay in one run.
func InRun(b byte) bool {
	return b < 0x80 || (b >= 0xC0 && b < 0xFF)
}

func scanRuns(buf []byte, lim Limits, s *set) {
	start := -1
	for i, b := range buf {
		if InRun(b) {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			if n := i - start; lim.inBounds(n) {
				s.add(Candidate{Start: start, Len: n})
			}
			start = -1
		}
	}
	if start != -1 {
		if n := len(buf) - start; lim.inBounds(n) {
			s.add(Candidate{Start: start, Len: n})
		}
	}
}

func scanPointers(buf []byte, lim Limits, s *set) {
	words := len(buf) / 4
	limit := words - 1
	if limit > lim.MaxPointerWords {
		limit = lim.MaxPointerWords
	}
	size := uint64(len(buf))
	for i := 0; i < limit; i++ {
		ptr := binary.LittleEndian.Uint32(buf[i*4:])
		n := binary.LittleEndian.Uint32(buf[(i+1)*4:])
		if ptr == 0 || n > uint32(lim.MaxLen) || !lim.inBounds(int(n)) {
			continue
		}
		if uint64(ptr)+uint64(n) > size {
			continue
		}
		s.add(Candidate{Start: int(ptr), Len: int(n)})
	}
}

func scanPrefixes(buf []byte, lim Limits, s *set) {
	limit := len(buf) - 3
	if limit > lim.MaxPrefixScan {
		limit = lim.MaxPrefixScan
	}
	for i := 0; i < limit; i++ {
		lo, hi := buf[i], buf[i+1]
		if lo == 0 || lo >= 0x80 || hi != 0 {
			continue
		}
		n := int(binary.LittleEndian.Uint16(buf[i:]))
		if lim.inBounds(n) && i+2+n <= len(buf) {
			s.add(Candidate{Start: i + 2, Len: n})
		}
	}
}
