package cc1101

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DefaultSpeed is well below the chip's 6.5 MHz burst limit.
const DefaultSpeed = physic.MegaHertz

// ParseSpeed parses a frequency such as "1MHz" or "500kHz".
func ParseSpeed(s string) (physic.Frequency, error) {
	var f physic.Frequency
	if err := f.Set(s); err != nil {
		return 0, errors.Wrapf(err, "parse spi speed %q", s)
	}
	return f, nil
}

// OpenSPI initializes the host drivers and connects to the named port in
// mode 0. An empty name selects the first port found. The returned closer
// releases the port.
func OpenSPI(name string, speed physic.Frequency) (spi.PortCloser, spi.Conn, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, errors.Wrap(err, "initialize host drivers")
	}

	port, err := spireg.Open(name)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open spi port %q", name)
	}

	conn, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, nil, errors.Wrap(err, "connect spi")
	}

	return port, conn, nil
}
