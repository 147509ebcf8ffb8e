// Package source reads the blob to analyse from a file or standard input,
// transparently unwrapping xz and gzip containers.
package source

import (
	"bytes"
	"compress/gzip"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
)

// Stdin is the path that selects standard input.
const Stdin = "-"

var (
	// ErrTooLarge is returned when the (decompressed) input exceeds the limit.
	ErrTooLarge = errors.New("input exceeds size limit")
	// ErrEmptyInput is returned by Load for a zero-byte input.
	ErrEmptyInput = errors.New("input is empty")
)

// Compression names the container a blob arrived in.
type Compression string

const (
	None Compression = "none"
	Gzip Compression = "gzip"
	XZ   Compression = "xz"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

	stdin io.Reader = os.Stdin
)

// Blob is a loaded input.
type Blob struct {
	Name        string
	Data        []byte
	Compression Compression
	// Digest is the hex BLAKE3-256 of Data.
	Digest string
}

// Options bound what Load accepts.
type Options struct {
	MaxBytes int64
	// Raw disables container detection.
	Raw bool
	// Logger receives a warning when a detected container fails to decode.
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Load reads path, or standard input when path is "-".
func Load(path string, opts Options) (*Blob, error) {
	var (
		r    io.Reader
		name = path
	)
	if path == Stdin {
		r, name = stdin, "stdin"
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	blob, err := Read(r, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	blob.Name = name
	return blob, nil
}

// Read consumes r and unwraps a recognised container.
func Read(r io.Reader, opts Options) (*Blob, error) {
	data, err := readLimited(r, opts.MaxBytes)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	comp := None
	if !opts.Raw {
		comp = Detect(data)
	}
	if comp != None {
		unpacked, err := unwrap(comp, data, opts.MaxBytes)
		switch {
		case err == nil:
			data = unpacked
		case errors.Is(err, ErrTooLarge):
			return nil, err
		default:
			// Magic bytes can occur by chance; treat the blob as opaque.
			opts.logger().Warn("container did not decode, analysing raw bytes",
				"compression", string(comp), "error", err)
			comp = None
		}
	}
	return &Blob{Data: data, Compression: comp, Digest: Digest(data)}, nil
}

func unwrap(comp Compression, data []byte, limit int64) ([]byte, error) {
	switch comp {
	case Gzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		out, err := readLimited(zr, limit)
		if err != nil {
			return nil, fmt.Errorf("decompress gzip: %w", err)
		}
		return out, nil
	case XZ:
		xr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open xz stream: %w", err)
		}
		out, err := readLimited(xr, limit)
		if err != nil {
			return nil, fmt.Errorf("decompress xz: %w", err)
		}
		return out, nil
	}
	return data, nil
}

// Detect reports the container format announced by the leading bytes.
func Detect(data []byte) Compression {
	switch {
	case bytes.HasPrefix(data, xzMagic):
		return XZ
	case bytes.HasPrefix(data, gzipMagic):
		return Gzip
	}
	return None
}

// Digest returns the hex encoded BLAKE3-256 sum of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
