package receiver

import (
	"fmt"

	"github.com/bemasher/multical21/decrypt"
	"github.com/bemasher/multical21/reading"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoPreamble means the FIFO didn't start with the sync pair, usually
	// noise that happened to match the sync word.
	ErrNoPreamble = errors.New("no preamble")

	// ErrForeignMeter means the frame came from a meter other than ours.
	ErrForeignMeter = errors.New("foreign meter")
)

// LengthError is returned for a length byte outside [18, 64).
type LengthError struct {
	Length int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("invalid frame length: %d", e.Length)
}

// Level is the log level a pipeline error is reported at. Noise and traffic
// from other meters are debug, malformed frames are warnings and anything else
// is treated as an I/O failure.
func Level(err error) logrus.Level {
	var (
		lengthErr  *LengthError
		decryptErr *decrypt.LengthError
		crcErr     *reading.ChecksumError
		typeErr    *reading.UnknownFrameTypeError
		shortErr   *reading.ShortPayloadError
	)

	switch {
	case err == nil:
		return logrus.InfoLevel
	case errors.Is(err, ErrNoPreamble), errors.Is(err, ErrForeignMeter):
		return logrus.DebugLevel
	case errors.As(err, &lengthErr),
		errors.As(err, &decryptErr),
		errors.As(err, &crcErr),
		errors.As(err, &typeErr),
		errors.As(err, &shortErr):
		return logrus.WarnLevel
	}
	return logrus.ErrorLevel
}
