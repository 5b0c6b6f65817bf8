package cc1101

import (
	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// Pin reports the GDO0 line. A low level means the radio has synchronized and
// bytes are waiting in the FIFO.
type Pin interface {
	Pending() (bool, error)
}

// LinePin is a GDO0 line requested through the GPIO character device.
type LinePin struct {
	line *gpiocdev.Line
}

// OpenPin requests offset on chip (e.g. "gpiochip0") as an input.
func OpenPin(chip string, offset int) (*LinePin, error) {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithConsumer("multical21"),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "request %s line %d", chip, offset)
	}
	return &LinePin{line}, nil
}

func (p *LinePin) Pending() (bool, error) {
	v, err := p.line.Value()
	if err != nil {
		return false, errors.Wrap(err, "read gdo0")
	}
	return v == 0, nil
}

func (p *LinePin) Close() error {
	return p.line.Close()
}
