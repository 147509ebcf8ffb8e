package extract

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/RowanDark/unravel/internal/locator"
	"github.com/RowanDark/unravel/internal/ranker"
	"github.com/RowanDark/unravel/internal/scorer"
)

// ErrInvalidOptions is returned when Options fail validation.
var ErrInvalidOptions = errors.New("invalid analysis options")

// Limits are the hard ceilings that bound the cost of one analysis.
type Limits struct {
	locator.Limits `yaml:",inline"`

	// MaxCandidateBytes truncates every candidate span before decoding.
	MaxCandidateBytes int `json:"max_candidate_bytes" yaml:"max_candidate_bytes"`
	// ReportedCandidates caps the candidates echoed in a Result.
	ReportedCandidates int `json:"reported_candidates" yaml:"reported_candidates"`
	// WindowSize and WindowStride shape the sliding window used to find
	// text embedded in long, otherwise noisy candidates.
	WindowSize   int `json:"window_size" yaml:"window_size"`
	WindowStride int `json:"window_stride" yaml:"window_stride"`
}

// DefaultLimits returns the stock ceilings.
func DefaultLimits() Limits {
	return Limits{
		Limits:             locator.DefaultLimits(),
		MaxCandidateBytes:  4096,
		ReportedCandidates: 100,
		WindowSize:         512,
		WindowStride:       64,
	}
}

// Validate rejects limits the pipeline cannot honour.
func (l Limits) Validate() error {
	if err := l.Limits.Validate(); err != nil {
		return err
	}
	switch {
	case l.MaxCandidateBytes < l.MinLen:
		return fmt.Errorf("max candidate bytes %d below min length %d", l.MaxCandidateBytes, l.MinLen)
	case l.ReportedCandidates < 0:
		return fmt.Errorf("reported candidates must not be negative")
	case l.WindowSize < l.MinLen:
		return fmt.Errorf("window size %d below min length %d", l.WindowSize, l.MinLen)
	case l.WindowStride <= 0:
		return fmt.Errorf("window stride must be positive")
	}
	return nil
}

// Options configure Analyze.
type Options struct {
	Limits     Limits            `json:"limits" yaml:"limits"`
	Thresholds scorer.Thresholds `json:"thresholds" yaml:"thresholds"`
	Caps       ranker.Caps       `json:"caps" yaml:"caps"`

	// SkipScore is the score below which good raw text skips the rest of
	// the transform bank for its candidate.
	SkipScore float64 `json:"skip_score" yaml:"skip_score"`
	// WindowScore is the score a sliding window must stay below to count.
	WindowScore float64 `json:"window_score" yaml:"window_score"`

	// Workers is the number of goroutines evaluating candidates. Output is
	// identical for every value.
	Workers int `json:"workers" yaml:"workers"`
	// DisabledTransforms removes named transforms from the bank. The raw
	// decode that opens every candidate always runs.
	DisabledTransforms []string `json:"disabled_transforms,omitempty" yaml:"disabled_transforms,omitempty"`

	// Logger receives progress records. A nil Logger discards them.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// DefaultOptions returns the stock analysis settings.
func DefaultOptions() Options {
	return Options{
		Limits:      DefaultLimits(),
		Thresholds:  scorer.DefaultThresholds(),
		Caps:        ranker.DefaultCaps(),
		SkipScore:   4.0,
		WindowScore: 4.0,
		Workers:     1,
	}
}

// Validate checks that the options describe a runnable analysis.
func (o Options) Validate() error {
	if err := o.Limits.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if o.Caps.Final < 0 {
		return fmt.Errorf("%w: final cap must not be negative", ErrInvalidOptions)
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidOptions)
	}
	return nil
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (o Options) workers() int {
	if o.Workers < 1 {
		return 1
	}
	return o.Workers
}
