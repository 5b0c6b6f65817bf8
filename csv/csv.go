// Package csv encodes values that describe themselves as CSV records.
package csv

import (
	"encoding/csv"
	"io"

	"golang.org/x/xerrors"
)

// Produces a list of fields making up a record.
type Recorder interface {
	Record() []string
}

// Headerer names the fields returned by Record.
type Headerer interface {
	Header() []string
}

// An Encoder writes CSV records to an output stream.
type Encoder struct {
	w *csv.Writer

	// header is written before the first record if set.
	header bool
}

// NewEncoder returns a new encoder that writes to w. If the first value encoded
// implements Headerer its header is written before it.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: csv.NewWriter(w), header: true}
}

// Encode writes a CSV record representing v to the stream followed by a
// newline character. Value given must implement the Recorder interface.
func (enc *Encoder) Encode(v interface{}) (err error) {
	defer func() {
		if r, _ := recover().(error); r != nil {
			err = xerrors.Errorf("recovered: %w", r)
		}
	}()

	rec := v.(Recorder).Record()

	if enc.header {
		enc.header = false
		if h, ok := v.(Headerer); ok {
			if err = enc.w.Write(h.Header()); err != nil {
				return xerrors.Errorf("write header: %w", err)
			}
		}
	}

	if err = enc.w.Write(rec); err != nil {
		return xerrors.Errorf("write record: %w", err)
	}
	enc.w.Flush()

	return enc.w.Error()
}
