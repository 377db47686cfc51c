// Package sink persists KPI records to a text log and a JSON log kept in
// lock-step: both always hold the same number of records.
package sink

import (
	"sync"

	"github.com/pkg/errors"

	"Go2NetKPI/internal/model"
)

// DualSinkWriter owns the text and JSON sinks of a run. It is the only
// writer of both files.
type DualSinkWriter struct {
	mu         sync.Mutex
	text       *TextSink
	json       *JSONSink
	broken     error
	finalizing bool
	closed     bool
}

// Open creates both sink files and returns a writer over them.
func Open(textPath, jsonPath string, fsync bool) (*DualSinkWriter, error) {
	text, err := OpenTextSink(textPath, fsync)
	if err != nil {
		return nil, err
	}
	json, err := OpenJSONSink(jsonPath, fsync)
	if err != nil {
		_ = text.close()
		return nil, err
	}
	return NewDualSinkWriter(text, json), nil
}

// NewDualSinkWriter takes ownership of two freshly opened sinks.
func NewDualSinkWriter(text *TextSink, json *JSONSink) *DualSinkWriter {
	return &DualSinkWriter{text: text, json: json}
}

// WriteRecord appends one record to both sinks.
func (w *DualSinkWriter) WriteRecord(rec model.LogRecord) error {
	return w.WriteBatch([]model.LogRecord{rec})
}

// WriteBatch appends the records of one tick to both sinks, each record
// pushed to the OS before the next is written. If any write fails, both
// sinks are cut back to where they were before the batch and the error is
// returned; the files never disagree on their record count.
func (w *DualSinkWriter) WriteBatch(records []model.LogRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.finalizing {
		return ErrClosed
	}
	if w.broken != nil {
		return errors.Wrap(ErrDesynchronized, w.broken.Error())
	}

	textMark, jsonMark := w.text.mark(), w.json.mark()
	for _, rec := range records {
		line := FormatText(rec)
		obj, err := FormatJSON(rec)
		if err != nil {
			w.abort(textMark, jsonMark)
			return errors.Wrapf(err, "failed to encode record for flow %d", rec.Identity.FlowID)
		}
		if err := w.text.appendRecord(line); err != nil {
			w.abort(textMark, jsonMark)
			return err
		}
		if err := w.json.appendRecord(obj); err != nil {
			w.abort(textMark, jsonMark)
			return err
		}
	}
	return nil
}

// abort rolls both sinks back to the batch start. If that fails the writer
// refuses all further writes.
func (w *DualSinkWriter) abort(textMark, jsonMark checkpoint) {
	if err := w.text.rollback(textMark); err != nil {
		w.broken = err
	}
	if err := w.json.rollback(jsonMark); err != nil && w.broken == nil {
		w.broken = err
	}
}

// RecordsWritten returns the record counts of the text and JSON sinks.
func (w *DualSinkWriter) RecordsWritten() (text, json uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.text.RecordsWritten(), w.json.RecordsWritten()
}

// Paths returns the text and JSON file paths.
func (w *DualSinkWriter) Paths() (text, json string) {
	return w.text.Path(), w.json.Path()
}

// Closed reports whether Finalize has run.
func (w *DualSinkWriter) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Finalize closes the JSON array and both files. It must run after the
// last write; once it has succeeded, calling it again is a no-op. If the
// closing bracket cannot be written the files stay open, writes are
// refused and Finalize may be called again.
func (w *DualSinkWriter) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.finalizing = true
	if err := w.json.terminate(); err != nil {
		return err
	}
	w.closed = true

	var firstErr error
	if err := w.json.close(); err != nil {
		firstErr = err
	}
	if err := w.text.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
