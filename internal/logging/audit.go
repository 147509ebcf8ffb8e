package logging

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/RowanDark/unravel/internal/redact"
)

// EventType names an entry in the run journal.
type EventType string

// Journal events, in the order a run normally produces them.
const (
	EventRPCCall          EventType = "rpc_call"
	EventRPCDenied        EventType = "rpc_denied"
	EventAnalysisStart    EventType = "analysis_start"
	EventAnalysisComplete EventType = "analysis_complete"
	EventAnalysisFailed   EventType = "analysis_failed"
	EventFindingEmitted   EventType = "finding_emitted"
	EventStoreWrite       EventType = "store_write"
)

type Decision string

const (
	DecisionInfo  Decision = "info"
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// AuditEvent is one JSON line of the run journal. RunID ties the events of
// one analysis together; it is empty for events outside a run, such as a
// rejected call.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component"`
	RunID     string         `json:"run_id,omitempty"`
	EventType EventType      `json:"event_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Decision  Decision       `json:"decision,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Option adds a destination to a journal or changes its defaults.
type Option func(*journalConfig) error

type journalConfig struct {
	sinks  []io.Writer
	files  []*os.File
	stdout bool
}

func WithWriter(w io.Writer) Option {
	return func(cfg *journalConfig) error {
		if w == nil {
			return errors.New("writer cannot be nil")
		}
		cfg.sinks = append(cfg.sinks, w)
		return nil
	}
}

// WithFile appends to the journal file at path, creating it 0600.
func WithFile(path string) Option {
	return func(cfg *journalConfig) error {
		path = strings.TrimSpace(path)
		if path == "" {
			return errors.New("file path cannot be empty")
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		cfg.files = append(cfg.files, f)
		return nil
	}
}

// WithoutStdout stops the journal from mirroring to standard output.
func WithoutStdout() Option {
	return func(cfg *journalConfig) error {
		cfg.stdout = false
		return nil
	}
}

// journal is the writer shared by a logger and every logger derived from it.
type journal struct {
	mu    sync.Mutex
	enc   *json.Encoder
	files []*os.File
}

func (j *journal) write(event AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(event)
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var errs []error
	for _, f := range j.files {
		errs = append(errs, f.Close())
	}
	j.files = nil
	return errors.Join(errs...)
}

// AuditLogger records AuditEvents with their reason and metadata passed
// through redact.
type AuditLogger struct {
	component string
	journal   *journal
	// owner is false for loggers from WithComponent, which must not close
	// files they share with their parent.
	owner bool
}

func NewAuditLogger(component string, opts ...Option) (*AuditLogger, error) {
	cfg := journalConfig{stdout: true}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			for _, f := range cfg.files {
				_ = f.Close()
			}
			return nil, err
		}
	}

	var sinks []io.Writer
	if cfg.stdout {
		sinks = append(sinks, os.Stdout)
	}
	sinks = append(sinks, cfg.sinks...)
	for _, f := range cfg.files {
		sinks = append(sinks, f)
	}
	if len(sinks) == 0 {
		return nil, errors.New("no writers configured for audit logger")
	}

	enc := json.NewEncoder(io.MultiWriter(sinks...))
	enc.SetEscapeHTML(false)
	return &AuditLogger{
		component: component,
		journal:   &journal{enc: enc, files: cfg.files},
		owner:     true,
	}, nil
}

// NopAuditLogger discards every event.
func NopAuditLogger() *AuditLogger {
	return &AuditLogger{component: "nop", journal: &journal{enc: json.NewEncoder(io.Discard)}}
}

// Close closes the journal files. It is a no-op on derived loggers.
func (l *AuditLogger) Close() error {
	if l == nil || l.journal == nil || !l.owner {
		return nil
	}
	return l.journal.close()
}

func (l *AuditLogger) Emit(event AuditEvent) error {
	if l == nil || l.journal == nil {
		return errors.New("nil audit logger")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()
	if event.Component == "" {
		event.Component = l.component
	}
	event.Reason = redact.String(event.Reason)
	event.Metadata = redact.Map(event.Metadata)
	return l.journal.write(event)
}

// Record emits an info event for runID. Encoding failures are dropped; the
// journal is never load-bearing.
func (l *AuditLogger) Record(eventType EventType, runID string, metadata map[string]any) {
	if l == nil {
		return
	}
	_ = l.Emit(AuditEvent{RunID: runID, EventType: eventType, Decision: DecisionInfo, Metadata: metadata})
}

// WithComponent derives a logger that writes to the same journal under
// another component name.
func (l *AuditLogger) WithComponent(component string) *AuditLogger {
	if l == nil || l.journal == nil {
		return nil
	}
	return &AuditLogger{component: component, journal: l.journal}
}
