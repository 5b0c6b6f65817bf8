// Package gen builds synthetic Multical 21 telegrams for testing the receive
// pipeline without a radio.
package gen

import (
	"encoding/binary"

	"github.com/bemasher/multical21/crc"
	"github.com/bemasher/multical21/decrypt"
	"github.com/bemasher/multical21/frame"
	"github.com/bemasher/multical21/reading"
	"github.com/pkg/errors"
)

const (
	Kamstrup           = 0x2C2D
	ControlSendNoReply = 0x44
	VersionMC21        = 0x1B
	DeviceColdWater    = 0x16
	CIExtendedLink     = 0x8D
)

// Header holds the variable header fields of a telegram.
type Header struct {
	Meter   frame.MeterID
	Control byte // communication control, part of the IV
	Access  byte
	Session uint32
}

// Values are the raw quantities carried in a payload.
type Values struct {
	TotalLitres      uint32
	MonthStartLitres uint32
	FlowTemp         uint8
	AmbientTemp      uint8
}

// Payload returns a plaintext for layout l with a valid leading CRC.
func Payload(l reading.Layout, v Values) []byte {
	buf := make([]byte, l.MinLength)
	buf[2] = l.CI
	binary.LittleEndian.PutUint32(buf[l.Total:], v.TotalLitres)
	binary.LittleEndian.PutUint32(buf[l.MonthStart:], v.MonthStartLitres)
	buf[l.FlowTemp] = v.FlowTemp
	buf[l.AmbientTemp] = v.AmbientTemp

	Seal(buf)

	return buf
}

// Seal writes the CRC of plaintext[2:] into plaintext[:2].
func Seal(plaintext []byte) {
	binary.LittleEndian.PutUint16(plaintext[:2], crc.EN13757.Checksum(plaintext[2:]))
}

// Frame encrypts plaintext under key and wraps it in a header and link layer
// CRC. The result is what follows the length byte on air.
func Frame(h Header, key decrypt.Key, plaintext []byte) ([]byte, error) {
	l := frame.HeaderLength + len(plaintext) + frame.TrailerLength
	if !frame.ValidLength(l) || len(plaintext) == 0 {
		return nil, errors.Errorf("plaintext length %d gives invalid frame length %d", len(plaintext), l)
	}

	raw := make([]byte, l)
	raw[0] = ControlSendNoReply
	binary.LittleEndian.PutUint16(raw[1:3], Kamstrup)
	for idx := range h.Meter {
		raw[6-idx] = h.Meter[idx]
	}
	raw[7] = VersionMC21
	raw[8] = DeviceColdWater
	raw[9] = CIExtendedLink
	raw[10] = h.Control
	raw[11] = h.Access
	binary.LittleEndian.PutUint32(raw[12:16], h.Session)

	var f frame.Frame
	if err := f.Set(raw); err != nil {
		return nil, err
	}

	d, err := decrypt.New(key)
	if err != nil {
		return nil, err
	}
	if err := d.XORKeyStream(raw[frame.HeaderLength:l-frame.TrailerLength], plaintext, f.IV()); err != nil {
		return nil, err
	}

	binary.BigEndian.PutUint16(raw[l-2:], crc.EN13757.Checksum(raw[:l-2]))

	return raw, nil
}

// Telegram prefixes a frame with the sync pair and length byte, as read from
// the radio's FIFO.
func Telegram(raw []byte) []byte {
	t := make([]byte, 0, len(raw)+3)
	t = append(t, frame.Preamble1, frame.Preamble2, byte(len(raw)))
	return append(t, raw...)
}
