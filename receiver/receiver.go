// MULTICAL21 - A CC1101 receiver for Kamstrup Multical 21 water meters.
// Copyright (C) 2026 Douglas Hall
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package receiver drives the receive pipeline for a single meter: frame
// acquisition from the radio FIFO, identity filtering, decryption, payload
// parsing and flow estimation.
package receiver

import (
	"time"

	"github.com/bemasher/multical21/cc1101"
	"github.com/bemasher/multical21/decrypt"
	"github.com/bemasher/multical21/flow"
	"github.com/bemasher/multical21/frame"
	"github.com/bemasher/multical21/reading"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Radio is the part of cc1101.Radio a Session uses.
type Radio interface {
	ReadByte() (byte, error)
	ReadBurst(buf []byte) error
	ArmReceive() error
	RSSI() (float64, error)
}

// Update is the result of a successfully received frame.
type Update struct {
	Meter   frame.MeterID
	Reading reading.Reading

	// FlowLPH is only meaningful when FlowOK is set.
	FlowLPH float64
	FlowOK  bool

	// RSSI of the frame in dBm and the derived signal quality in percent,
	// both only meaningful when RSSIOK is set.
	RSSI          float64
	SignalQuality float64
	RSSIOK        bool
}

// Stats are running counters of pipeline outcomes.
type Stats struct {
	Frames        uint64 `json:"frames_received"`
	NoPreamble    uint64 `json:"no_preamble"`
	LengthErrors  uint64 `json:"length_errors"`
	Foreign       uint64 `json:"foreign_frames"`
	DecryptErrors uint64 `json:"decrypt_errors"`
	ParseErrors   uint64 `json:"parse_errors"`
	CRCErrors     uint64 `json:"crc_errors"`
	RadioErrors   uint64 `json:"radio_errors"`
	Readings      uint64 `json:"readings"`
}

// Session owns the radio and every buffer the pipeline needs. It is not safe
// for concurrent use; a single goroutine calls Tick.
type Session struct {
	radio Radio
	pin   cc1101.Pin
	log   logrus.FieldLogger
	now   func() time.Time

	meter frame.MeterID
	key   decrypt.Key
	dec   *decrypt.Decryptor

	frame     frame.Frame
	plaintext [frame.MaxCipherLength]byte

	// Sampled after each frame body is read.
	rssi   float64
	rssiOK bool

	flow    flow.Estimator
	last    Update
	hasLast bool
	stats   Stats
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) { s.log = l }
}

// WithClock replaces time.Now as the source of reading timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New returns a session receiving frames from meter. The radio is expected to
// be armed already.
func New(radio Radio, pin cc1101.Pin, meter frame.MeterID, key decrypt.Key, opts ...Option) (*Session, error) {
	dec, err := decrypt.New(key)
	if err != nil {
		return nil, err
	}

	s := &Session{
		radio: radio,
		pin:   pin,
		log:   logrus.StandardLogger(),
		now:   time.Now,
		meter: meter,
		key:   key,
		dec:   dec,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Session) Meter() frame.MeterID {
	return s.meter
}

// SetMeterID replaces the meter identity. Strings with fewer than 8 hex digits
// are ignored and the previous identity is kept.
func (s *Session) SetMeterID(hex string) error {
	id, err := frame.ParseMeterID(hex)
	if errors.Is(err, frame.ErrShortHex) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "meter id")
	}

	s.meter = id
	s.log.WithField("meter", id).Debug("meter id set")

	return nil
}

// SetKey replaces the decryption key. Strings with fewer than 32 hex digits
// are ignored and the previous key is kept.
func (s *Session) SetKey(hex string) error {
	key, err := decrypt.ParseKey(hex)
	if errors.Is(err, frame.ErrShortHex) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "key")
	}

	dec, err := decrypt.New(key)
	if err != nil {
		return err
	}
	s.key, s.dec = key, dec
	s.log.Debug("key set")

	return nil
}

// Stats returns a copy of the counters.
func (s *Session) Stats() Stats {
	return s.stats
}

// Last returns the most recent update, ok is false until the first reading.
func (s *Session) Last() (upd Update, ok bool) {
	return s.last, s.hasLast
}

// Flow exposes the estimator state.
func (s *Session) Flow() *flow.Estimator {
	return &s.flow
}

// Tick polls GDO0 and receives a frame if one is pending. Failures are logged
// and counted, ok reports whether upd holds a new reading.
func (s *Session) Tick() (upd Update, ok bool) {
	pending, err := s.pin.Pending()
	if err != nil {
		s.stats.RadioErrors++
		s.log.WithError(err).Error("poll gdo0")
		return
	}
	if !pending {
		return
	}

	upd, err = s.Receive()
	if err != nil {
		s.report(err)
		return Update{}, false
	}

	entry := s.log.WithFields(logrus.Fields{
		"meter":   upd.Meter,
		"reading": upd.Reading,
	})
	if upd.FlowOK {
		entry = entry.WithField("flow", upd.FlowLPH)
	}
	if upd.RSSIOK {
		entry = entry.WithField("rssi", upd.RSSI)
	}
	entry.Info("reading")

	return upd, true
}

// Receive reads one frame from the radio and runs it through the pipeline.
func (s *Session) Receive() (Update, error) {
	upd, err := s.receive()
	s.count(err)
	return upd, err
}

func (s *Session) receive() (Update, error) {
	if err := s.Acquire(); err != nil {
		return Update{}, err
	}

	payload, err := s.dec.Decrypt(s.plaintext[:], &s.frame)
	if err != nil {
		return Update{}, err
	}

	r, err := reading.Parse(payload, s.now())
	if err != nil {
		return Update{}, err
	}

	lph, ok := s.flow.Update(r.TotalM3, r.Time)
	s.last = Update{
		Meter:   s.meter,
		Reading: r,
		FlowLPH: lph,
		FlowOK:  ok,
	}
	if s.rssiOK {
		s.last.RSSI = s.rssi
		s.last.SignalQuality = cc1101.SignalQuality(s.rssi)
		s.last.RSSIOK = true
	}
	s.hasLast = true

	return s.last, nil
}

// Acquire reads the preamble, length and body of a frame from the FIFO into
// the session's frame buffer and samples the RSSI. The radio is re-armed
// before Acquire returns whatever the outcome, a failed re-arm is logged but
// doesn't drop the frame. A nil error means the frame belongs to our meter.
func (s *Session) Acquire() error {
	var hdr [3]byte
	for idx := range hdr {
		b, err := s.radio.ReadByte()
		if err != nil {
			return s.rearm(errors.Wrap(err, "read fifo"))
		}
		hdr[idx] = b

		if idx == 1 && (hdr[0] != frame.Preamble1 || hdr[1] != frame.Preamble2) {
			return s.rearm(ErrNoPreamble)
		}
	}

	l := int(hdr[2])
	if !frame.ValidLength(l) {
		return s.rearm(&LengthError{l})
	}

	if err := s.radio.ReadBurst(s.frame.Load(l)); err != nil {
		return s.rearm(errors.Wrap(err, "read frame"))
	}
	s.stats.Frames++

	var err error
	if s.rssi, err = s.radio.RSSI(); err != nil {
		s.log.WithError(err).Warn("sample rssi")
	}
	s.rssiOK = err == nil

	s.rearm(nil)

	if !s.frame.MatchMeter(s.meter) {
		return errors.Wrapf(ErrForeignMeter, "%v", &s.frame)
	}

	return nil
}

func (s *Session) rearm(cause error) error {
	if err := s.radio.ArmReceive(); err != nil {
		s.log.WithError(err).Error("re-arm")
	}
	return cause
}

func (s *Session) count(err error) {
	var (
		lengthErr  *LengthError
		decryptErr *decrypt.LengthError
		crcErr     *reading.ChecksumError
		typeErr    *reading.UnknownFrameTypeError
		shortErr   *reading.ShortPayloadError
	)

	switch {
	case err == nil:
		s.stats.Readings++
	case errors.Is(err, ErrNoPreamble):
		s.stats.NoPreamble++
	case errors.Is(err, ErrForeignMeter):
		s.stats.Foreign++
	case errors.As(err, &lengthErr):
		s.stats.LengthErrors++
	case errors.As(err, &decryptErr):
		s.stats.DecryptErrors++
	case errors.As(err, &crcErr):
		s.stats.CRCErrors++
	case errors.As(err, &typeErr), errors.As(err, &shortErr):
		s.stats.ParseErrors++
	default:
		s.stats.RadioErrors++
	}
}

func (s *Session) report(err error) {
	fields := logrus.Fields{}

	var (
		lengthErr  *LengthError
		decryptErr *decrypt.LengthError
		crcErr     *reading.ChecksumError
		typeErr    *reading.UnknownFrameTypeError
	)
	switch {
	case errors.As(err, &lengthErr):
		fields["length"] = lengthErr.Length
	case errors.As(err, &decryptErr):
		fields["length"] = decryptErr.Length
	case errors.As(err, &crcErr):
		fields["calc"] = crcErr.Calculated
		fields["read"] = crcErr.Read
	case errors.As(err, &typeErr):
		fields["ci"] = typeErr.CI
	}

	s.log.WithFields(fields).WithError(err).Log(Level(err), "frame dropped")
}
