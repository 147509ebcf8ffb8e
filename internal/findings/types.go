// Package findings models the advisory observations made about recovered
// strings and persists them as JSON Lines.
package findings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity grades how interesting a finding is to a reviewer. Values are
// lowercase short codes for stable JSON encoding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "med"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "crit"
)

// SchemaVersion is written into every persisted finding.
const SchemaVersion = "1.0"

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity accepts a severity code in any case.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if err := s.validate(); err != nil {
		return "", err
	}
	return s, nil
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

func (s Severity) MarshalJSON() ([]byte, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(string(s))
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Severity) validate() error {
	if _, ok := severityRank[s]; !ok {
		return fmt.Errorf("invalid severity: %q", s)
	}
	return nil
}

// Timestamp encodes as RFC3339 in UTC at second precision.
type Timestamp time.Time

func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp(t.UTC().Truncate(time.Second))
}

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func (t Timestamp) IsZero() bool {
	return time.Time(t).IsZero()
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(tt.UTC().Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("invalid ts timestamp: %w", err)
	}
	*t = NewTimestamp(parsed)
	return nil
}

// NewID returns a random finding identifier.
func NewID() string {
	return uuid.NewString()
}

// Finding is one observation about a recovered string: where it sits in the
// blob, how it was decoded and why it is worth a look.
type Finding struct {
	Version    string            `json:"version"`
	ID         string            `json:"id"`
	Detector   string            `json:"detector"`
	Type       string            `json:"type"`
	Message    string            `json:"message"`
	Target     string            `json:"target,omitempty"`
	Offset     int               `json:"offset"`
	Transform  string            `json:"transform,omitempty"`
	Evidence   string            `json:"evidence,omitempty"`
	Severity   Severity          `json:"severity"`
	DetectedAt Timestamp         `json:"ts"`
	Metadata   map[string]string `json:"meta,omitempty"`
}

// Validate checks the fields every persisted finding must carry.
func (f Finding) Validate() error {
	if strings.TrimSpace(f.Version) != SchemaVersion {
		return fmt.Errorf("unsupported version %q", f.Version)
	}
	if _, err := uuid.Parse(strings.TrimSpace(f.ID)); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	if strings.TrimSpace(f.Detector) == "" {
		return errors.New("detector is required")
	}
	if strings.TrimSpace(f.Type) == "" {
		return errors.New("type is required")
	}
	if strings.TrimSpace(f.Message) == "" {
		return errors.New("message is required")
	}
	if f.Offset < 0 {
		return errors.New("offset must not be negative")
	}
	if err := f.Severity.validate(); err != nil {
		return err
	}
	if f.DetectedAt.IsZero() {
		return errors.New("ts is required")
	}
	return nil
}

// Clone returns a deep copy of the finding.
func (f Finding) Clone() Finding {
	out := f
	if len(f.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(f.Metadata))
		for k, v := range f.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
