package publish

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/bemasher/multical21/csv"
	"github.com/bemasher/multical21/receiver"
	"github.com/pkg/errors"
)

// JSON, XML and CSV encoders all implement this interface so we can simplify
// output formatting.
type Encoder interface {
	Encode(interface{}) error
}

type NewEncoderFunc func(w io.Writer) Encoder

var (
	encoderMutex sync.Mutex
	encoders     = make(map[string]NewEncoderFunc)
)

func init() {
	Register("plain", func(w io.Writer) Encoder { return PlainEncoder{w} })
	Register("csv", func(w io.Writer) Encoder { return csv.NewEncoder(w) })
	Register("json", func(w io.Writer) Encoder { return json.NewEncoder(w) })
	Register("xml", func(w io.Writer) Encoder { return lineEncoder{w, xml.NewEncoder(w)} })
}

// Register makes an output format available by name.
func Register(name string, fn NewEncoderFunc) {
	encoderMutex.Lock()
	defer encoderMutex.Unlock()

	if fn == nil {
		panic("publish: new encoder func is nil")
	}
	if _, dup := encoders[name]; dup {
		panic(fmt.Sprintf("publish: encoder already registered (%s)", name))
	}
	encoders[name] = fn
}

func NewEncoder(name string, w io.Writer) (Encoder, error) {
	encoderMutex.Lock()
	defer encoderMutex.Unlock()

	if fn, exists := encoders[name]; exists {
		return fn(w), nil
	}
	return nil, errors.Errorf("invalid format: %q", name)
}

// Formats lists the registered format names.
func Formats() (names []string) {
	encoderMutex.Lock()
	defer encoderMutex.Unlock()

	for name := range encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

type PlainEncoder struct {
	w io.Writer
}

func (pe PlainEncoder) Encode(msg interface{}) (err error) {
	_, err = fmt.Fprintln(pe.w, msg)
	return
}

// xml.Encoder doesn't terminate elements with a newline.
type lineEncoder struct {
	w   io.Writer
	enc Encoder
}

func (le lineEncoder) Encode(msg interface{}) error {
	if err := le.enc.Encode(msg); err != nil {
		return err
	}
	_, err := io.WriteString(le.w, "\n")
	return err
}

// Writer publishes encoded messages to a stream. Diagnostics are not written.
type Writer struct {
	enc Encoder
}

func NewWriter(enc Encoder) *Writer {
	return &Writer{enc}
}

func (w *Writer) Publish(_ context.Context, upd receiver.Update) error {
	return errors.Wrap(w.enc.Encode(NewMessage(upd)), "encode")
}

func (w *Writer) PublishStats(context.Context, receiver.Stats) error {
	return nil
}

func (w *Writer) Close() error {
	return nil
}
