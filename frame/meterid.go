package frame

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// ErrShortHex is returned when a hex string has fewer digits than needed.
var ErrShortHex = errors.New("hex string too short")

// MeterID is the 4 byte meter identity, most significant byte first as it is
// printed on the meter.
type MeterID [4]byte

// ParseMeterID decodes the first 8 hex digits of s. Strings shorter than that
// yield ErrShortHex, non hex digits are an error.
func ParseMeterID(s string) (id MeterID, err error) {
	err = DecodeHex(id[:], s)
	return
}

func (id MeterID) String() string {
	return strings.ToUpper(hex.EncodeToString(id[:]))
}

func (id MeterID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// DecodeHex fills dst from the leading hex digits of s. Extra digits are
// ignored, leading whitespace is not. dst is left untouched on error.
func DecodeHex(dst []byte, s string) error {
	if len(s) < len(dst)*2 {
		return errors.Wrapf(ErrShortHex, "need %d digits, got %d", len(dst)*2, len(s))
	}

	var tmp [32]byte
	if len(dst) > len(tmp) {
		return errors.Errorf("hex: destination too large (%d bytes)", len(dst))
	}
	if _, err := hex.Decode(tmp[:len(dst)], []byte(s[:len(dst)*2])); err != nil {
		return errors.Wrap(err, "hex")
	}
	copy(dst, tmp[:len(dst)])

	return nil
}
