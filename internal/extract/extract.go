// Package extract runs the full string recovery pipeline over one buffer:
// candidate spans are located, decoded with every transform in the bank,
// scored for plausibility, then deduplicated and ranked.
//
// Analyze is deterministic. The same buffer and options produce the same
// Result regardless of the worker count.
package extract

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/RowanDark/unravel/internal/cipher"
	"github.com/RowanDark/unravel/internal/locator"
	"github.com/RowanDark/unravel/internal/ranker"
)

// Result is the bounded report of one analysis.
type Result struct {
	Candidates      []locator.Candidate `json:"candidates"`
	RawCount        int                 `json:"rawCount"`
	UniqueCount     int                 `json:"uniqueCount"`
	Final           []ranker.Hit        `json:"final"`
	AllStrings      []string            `json:"allStrings"`
	LikelyImportant []string            `json:"likelyImportant"`
}

// Failure is the single error descriptor returned when an analysis cannot
// complete. No partial result accompanies it.
type Failure struct {
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func newFailure(err error, format string, args ...any) *Failure {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &Failure{Message: msg, Err: err}
}

// bankFor builds the transform bank for one analysis.
var bankFor = func(disabled []string) cipher.Bank {
	return cipher.DefaultBank().Without(disabled...)
}

// Analyze recovers plausible strings from buf. An empty buffer yields an
// empty, well-formed Result. Any error is a *Failure.
func Analyze(ctx context.Context, buf []byte, opts Options) (result *Result, err error) {
	if err := opts.Validate(); err != nil {
		return nil, newFailure(err, "analysis rejected")
	}
	log := opts.logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error("analysis panicked", "panic", r, "stack", string(debug.Stack()))
			result = nil
			err = newFailure(fmt.Errorf("%v", r), "analysis aborted")
		}
	}()

	started := time.Now()
	bank := bankFor(opts.DisabledTransforms)
	candidates := locator.Locate(buf, opts.Limits.Limits)
	log.Debug("candidates located", "bytes", len(buf), "candidates", len(candidates), "transforms", len(bank))

	p := &pipeline{opts: opts, bank: bank}
	hits, err := p.run(ctx, buf, candidates)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, newFailure(err, "analysis cancelled")
		}
		return nil, newFailure(err, "analysis aborted")
	}

	ranking := ranker.Rank(hits, opts.Caps)
	result = &Result{
		Candidates:      headCandidates(candidates, opts.Limits.ReportedCandidates),
		RawCount:        len(hits),
		UniqueCount:     ranking.UniqueCount,
		Final:           ranking.Final,
		AllStrings:      ranking.AllStrings,
		LikelyImportant: ranking.LikelyImportant,
	}
	log.Info("analysis finished",
		"bytes", len(buf),
		"candidates", len(candidates),
		"raw_hits", result.RawCount,
		"unique", result.UniqueCount,
		"all_strings", len(result.AllStrings),
		"important", len(result.LikelyImportant),
		"duration", time.Since(started),
	)
	return result, nil
}

// DecodeSpan applies one named transform to buf[offset:offset+length] for
// manual review of a single span.
func DecodeSpan(buf []byte, offset, length int, transform string) (string, error) {
	if offset < 0 || length < 0 || offset > len(buf) || length > len(buf)-offset {
		return "", fmt.Errorf("span %d+%d outside buffer of %d bytes", offset, length, len(buf))
	}
	return cipher.Apply(transform, buf[offset:offset+length])
}

func headCandidates(candidates []locator.Candidate, limit int) []locator.Candidate {
	n := min(len(candidates), limit)
	out := make([]locator.Candidate, n)
	copy(out, candidates[:n])
	return out
}
