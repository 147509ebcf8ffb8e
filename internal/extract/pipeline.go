package extract

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/RowanDark/unravel/internal/cipher"
	"github.com/RowanDark/unravel/internal/locator"
	"github.com/RowanDark/unravel/internal/ranker"
	"github.com/RowanDark/unravel/internal/scorer"
)

const (
	transformRaw        = "raw"
	transformRawNoNulls = "raw_no_nulls"
)

// pipeline evaluates candidates against the transform bank.
type pipeline struct {
	opts Options
	bank cipher.Bank
}

// run evaluates every candidate and returns their hits concatenated in
// candidate order.
func (p *pipeline) run(ctx context.Context, buf []byte, candidates []locator.Candidate) ([]ranker.Hit, error) {
	workers := min(p.opts.workers(), max(len(candidates), 1))
	if workers == 1 {
		var hits []ranker.Hit
		for _, cand := range candidates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			hits = append(hits, p.evaluate(buf, cand)...)
		}
		return hits, nil
	}

	perCandidate := make([][]ranker.Hit, len(candidates))
	jobs := make(chan int, workers*2)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					fail(fmt.Errorf("candidate worker panicked: %v", r))
				}
			}()
			for idx := range jobs {
				if ctx.Err() != nil {
					return
				}
				perCandidate[idx] = p.evaluate(buf, candidates[idx])
			}
		}()
	}

	go func() {
		defer close(jobs)
		for idx := range candidates {
			select {
			case jobs <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hits []ranker.Hit
	for _, h := range perCandidate {
		hits = append(hits, h...)
	}
	return hits, nil
}

// evaluate produces every hit for one candidate. The raw decode runs first;
// when it already reads as good lowercase-bearing text the rest of the bank
// is skipped. Otherwise the bank runs over the span, over the span with
// zero bytes removed, and raw windows are scanned for embedded text.
func (p *pipeline) evaluate(buf []byte, cand locator.Candidate) []ranker.Hit {
	n := min(cand.Len, p.opts.Limits.MaxCandidateBytes)
	span := buf[cand.Start : cand.Start+n]
	th := p.opts.Thresholds

	var hits []ranker.Hit
	rawText := cipher.DecodeUTF8(span)
	rawLooks := scorer.LooksLikeText(rawText, th)
	rawScore := scorer.NormalizedEntropy(rawText)
	if rawLooks {
		hits = append(hits, newHit(cand.Start, n, transformRaw, rawText, rawScore))
		if rawScore < p.opts.SkipScore && hasLower(rawText) {
			return hits
		}
	}

	hits = p.applyBank(hits, cand.Start, span)

	if bytes.IndexByte(span, 0) >= 0 {
		compact := stripNulls(span)
		if len(compact) >= p.opts.Limits.MinLen {
			text := cipher.DecodeUTF8(compact)
			if scorer.LooksLikeText(text, th) {
				hits = append(hits, newHit(cand.Start, len(compact), transformRawNoNulls, text, scorer.NormalizedEntropy(text)))
			}
			hits = p.applyBank(hits, cand.Start, compact)
		}
	}

	stride, size := p.opts.Limits.WindowStride, p.opts.Limits.WindowSize
	for off := 0; off < len(span); off += stride {
		wlen := min(size, len(span)-off)
		if wlen < p.opts.Limits.MinLen {
			break
		}
		text := cipher.DecodeUTF8(span[off : off+wlen])
		if !scorer.LooksLikeText(text, th) {
			continue
		}
		if score := scorer.NormalizedEntropy(text); score < p.opts.WindowScore {
			hits = append(hits, newHit(cand.Start+off, wlen, transformRaw, text, score))
		}
	}
	return hits
}

// applyBank decodes data with every transform and keeps what reads as text.
// Transforms that cannot decode the bytes are skipped.
func (p *pipeline) applyBank(hits []ranker.Hit, start int, data []byte) []ranker.Hit {
	for _, tr := range p.bank {
		text, ok := tr.Decode(data)
		if !ok || !scorer.LooksLikeText(text, p.opts.Thresholds) {
			continue
		}
		hits = append(hits, newHit(start, len(data), tr.Name(), text, scorer.NormalizedEntropy(text)))
	}
	return hits
}

func newHit(start, length int, transform, text string, score float64) ranker.Hit {
	return ranker.Hit{
		Start:     start,
		Len:       length,
		Transform: transform,
		Text:      text,
		Score:     score,
	}
}

func stripNulls(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c != 0 {
			out = append(out, c)
		}
	}
	return out
}

func hasLower(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'a' && s[i] <= 'z' {
			return true
		}
	}
	return false
}
