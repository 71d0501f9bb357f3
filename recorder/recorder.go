// Package recorder streams received keypoint frames to a zstd-compressed
// JSON Lines file and reads them back for replay.
package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/vasa-develop/dumbbell-form-analyzer/analytics"
)

// Extension is the conventional file suffix for recordings.
const Extension = ".jsonl.zst"

// Record is one received frame.
type Record struct {
	At        time.Time          `json:"at"`
	Source    string             `json:"source,omitempty"`
	Keypoints analytics.Skeleton `json:"keypoints"`
}

// Writer appends records to a compressed stream. It is safe for concurrent
// use.
type Writer struct {
	mu      sync.Mutex
	dest    io.Closer
	encoder *zstd.Encoder
	buf     *bufio.Writer
	json    *json.Encoder
	count   int
}

// Create opens path for writing, truncating any previous recording.
func Create(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create recording dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.dest = f
	return w, nil
}

// NewWriter wraps dst. Closing the Writer does not close dst.
func NewWriter(dst io.Writer) (*Writer, error) {
	encoder, err := zstd.NewWriter(dst)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	buf := bufio.NewWriter(encoder)
	return &Writer{
		encoder: encoder,
		buf:     buf,
		json:    json.NewEncoder(buf),
	}, nil
}

// Write appends one record. Records with non-finite coordinates cannot be
// encoded as JSON and are rejected.
func (w *Writer) Write(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.encoder == nil {
		return errors.New("recorder closed")
	}
	if err := w.json.Encode(r); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes the stream and closes the file opened by Create.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.encoder == nil {
		return nil
	}

	var errs []error
	if err := w.buf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if err := w.encoder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("finalize compression: %w", err))
	}
	w.encoder = nil
	if w.dest != nil {
		if err := w.dest.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reader iterates over the records of a recording.
type Reader struct {
	src     io.Closer
	decoder *zstd.Decoder
	json    *json.Decoder
}

// Open opens a recording for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.src = f
	return r, nil
}

// NewReader wraps src. Closing the Reader does not close src.
func NewReader(src io.Reader) (*Reader, error) {
	decoder, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Reader{decoder: decoder, json: json.NewDecoder(decoder)}, nil
}

// Next returns the next record, or io.EOF at the end of the recording.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.json.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Close releases the decoder and the file opened by Open.
func (r *Reader) Close() error {
	r.decoder.Close()
	if r.src != nil {
		return r.src.Close()
	}
	return nil
}

// ReadAll loads every record from the recording at path.
func ReadAll(path string) ([]Record, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}
