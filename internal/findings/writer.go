package findings

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/RowanDark/unravel/internal/env"
)

// Filename names the findings file inside an output directory.
const Filename = "findings.jsonl"

const (
	defaultOutputDir    = "out"
	defaultMaxBytes     = 10 << 20
	defaultBufferSize   = 64 << 10
	defaultMaxRotations = 5
)

// DefaultPath resolves the findings file, honouring UNRAVEL_OUT.
func DefaultPath() string {
	if custom, ok := env.Lookup("UNRAVEL_OUT", "UNRAVEL_OUTPUT_DIR"); ok && strings.TrimSpace(custom) != "" {
		return filepath.Join(strings.TrimSpace(custom), Filename)
	}
	return filepath.Join(defaultOutputDir, Filename)
}

// WriterOption configures the writer behaviour.
type WriterOption func(*Writer)

// WithMaxBytes overrides the rotation threshold. Values <= 0 disable rotation.
func WithMaxBytes(limit int64) WriterOption {
	return func(w *Writer) {
		w.maxBytes = limit
	}
}

// WithMaxRotations sets how many rotated files are retained.
func WithMaxRotations(count int) WriterOption {
	return func(w *Writer) {
		w.maxFiles = max(count, 1)
	}
}

// WithSync forces an fsync after every write.
func WithSync(enabled bool) WriterOption {
	return func(w *Writer) {
		w.sync = enabled
	}
}

// Writer appends findings to a JSON Lines file, rotating it by size.
type Writer struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxFiles int
	sync     bool
	file     *os.File
	buf      *bufio.Writer
	written  int64
}

// NewWriter targets path, or DefaultPath when path is blank.
func NewWriter(path string, opts ...WriterOption) *Writer {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	w := &Writer{
		path:     path,
		maxBytes: defaultMaxBytes,
		maxFiles: defaultMaxRotations,
		sync:     os.Getenv("UNRAVEL_SYNC_WRITES") == "1",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path returns the file the writer appends to.
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Write stamps the schema version, validates and appends f.
func (w *Writer) Write(f Finding) error {
	if strings.TrimSpace(f.Version) == "" {
		f.Version = SchemaVersion
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid finding: %w", err)
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode finding: %w", err)
	}
	payload = append(payload, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return err
	}
	if err := w.rotateIfNeeded(int64(len(payload))); err != nil {
		return err
	}
	if _, err := w.buf.Write(payload); err != nil {
		return fmt.Errorf("write finding: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush finding: %w", err)
	}
	if w.sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("sync finding: %w", err)
		}
	}
	w.written += int64(len(payload))
	return nil
}

// WriteAll writes every finding, stopping at the first error.
func (w *Writer) WriteAll(list []Finding) error {
	for i, f := range list {
		if err := w.Write(f); err != nil {
			return fmt.Errorf("finding %d: %w", i, err)
		}
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) closeLocked() error {
	var firstErr error
	if w.buf != nil {
		if err := w.buf.Flush(); err != nil && !errors.Is(err, os.ErrClosed) {
			firstErr = err
		}
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.buf = nil
	w.file = nil
	w.written = 0
	return firstErr
}

func (w *Writer) open() error {
	if w.buf != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create findings directory: %w", err)
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open findings file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat findings file: %w", err)
	}
	w.file = file
	w.buf = bufio.NewWriterSize(file, defaultBufferSize)
	w.written = info.Size()
	return nil
}

// rotateIfNeeded shifts path.N to path.N+1, dropping the oldest, and moves
// the live file to path.1 when the next write would cross maxBytes.
func (w *Writer) rotateIfNeeded(next int64) error {
	if w.maxBytes <= 0 || w.written == 0 || w.written+next <= w.maxBytes {
		return nil
	}
	if err := w.closeLocked(); err != nil {
		return fmt.Errorf("close during rotation: %w", err)
	}

	_ = os.Remove(fmt.Sprintf("%s.%d", w.path, w.maxFiles))
	for i := w.maxFiles - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", w.path, i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, fmt.Sprintf("%s.%d", w.path, i+1)); err != nil {
			return fmt.Errorf("rotate findings file: %w", err)
		}
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate findings file: %w", err)
	}
	return w.open()
}
