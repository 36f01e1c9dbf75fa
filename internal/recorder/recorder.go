// Package recorder writes and reads the append-only, asciicast
// v2-shaped recording that backs every session's "stdout" file.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Header is the first line of a recording file.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Command   string            `json:"command"`
	Title     string            `json:"title"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event types, one character each per the asciicast wire shape.
const (
	EventOutput = "o"
	EventInput  = "i"
	EventResize = "r"
	EventMarker = "m"
)

// Recorder is the single writer of a session's recording file. Output,
// input, resize, and marker events are appended as they occur; elapsed
// time is seconds since the header's timestamp and is monotonically
// non-decreasing within a file.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	start    time.Time
	lastElap float64
	open     bool
}

// Create creates path (truncating any existing file) and writes the
// asciicast header; every later event is appended after it.
// command is the joined, resolved argv; title is the session's
// display name; env carries the passthrough environment variables the
// recording should document.
func Create(path string, cols, rows int, command, title string, env map[string]string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	start := time.Now()
	header := Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: start.Unix(),
		Command:   command,
		Title:     title,
		Env:       env,
	}
	w := bufio.NewWriter(f)
	if err := writeJSONLine(w, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("recorder: write header: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("recorder: flush header: %w", err)
	}
	return &Recorder{file: f, writer: w, start: start, open: true}, nil
}

func writeJSONLine(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// elapsed returns seconds since header timestamp, clamped so it never
// decreases within a file even if the wall clock jitters backward.
func (r *Recorder) elapsed() float64 {
	e := time.Since(r.start).Seconds()
	if e < r.lastElap {
		e = r.lastElap
	}
	r.lastElap = e
	return e
}

func (r *Recorder) appendEvent(kind, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return nil
	}
	event := []any{r.elapsed(), kind, data}
	if err := writeJSONLine(r.writer, event); err != nil {
		return fmt.Errorf("recorder: write event: %w", err)
	}
	return r.writer.Flush()
}

// WriteOutput appends an "o" event. Bytes are stored as a JSON string;
// UTF-8 validity is not assumed (terminal output may be arbitrary
// bytes) — see EncodeBytes for the lossless encoding used.
func (r *Recorder) WriteOutput(b []byte) error {
	return r.appendEvent(EventOutput, EncodeBytes(b))
}

// WriteInput appends an "i" event.
func (r *Recorder) WriteInput(b []byte) error {
	return r.appendEvent(EventInput, EncodeBytes(b))
}

// WriteResize appends an "r" event in "<cols>x<rows>" form.
func (r *Recorder) WriteResize(cols, rows int) error {
	return r.appendEvent(EventResize, fmt.Sprintf("%dx%d", cols, rows))
}

// WriteMarker appends an "m" event carrying an arbitrary label.
func (r *Recorder) WriteMarker(label string) error {
	return r.appendEvent(EventMarker, label)
}

// WriteRawJSON appends any JSON-marshalable value verbatim, used for
// the ["exit", code, id] trailer which does not share the 3-tuple
// [elapsed, type, data] shape of ordinary events.
func (r *Recorder) WriteRawJSON(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return nil
	}
	if err := writeJSONLine(r.writer, v); err != nil {
		return fmt.Errorf("recorder: write raw json: %w", err)
	}
	return r.writer.Flush()
}

// Close flushes and closes the file. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return nil
	}
	r.open = false
	if err := r.writer.Flush(); err != nil {
		r.file.Close()
		return fmt.Errorf("recorder: final flush: %w", err)
	}
	return r.file.Close()
}

// IsOpen reports whether the recorder still accepts writes.
func (r *Recorder) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}
