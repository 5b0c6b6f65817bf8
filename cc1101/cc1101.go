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

// Package cc1101 drives a TI CC1101 transceiver over SPI as a wireless M-Bus
// mode C1 receiver.
//
// The radio runs in infinite packet length mode. A received frame appears in
// the RX FIFO as the two byte C1 frame header (0x54 0x3D), then the length
// field, then the frame body. The caller polls GDO0 through a Pin and drains
// the FIFO once it reports a pending frame.
//
// Register access is synchronous and every transfer uses scratch buffers owned
// by the Radio, nothing allocates after New.
package cc1101

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// ResetDelay is how long the chip is given to come out of SRES.
	ResetDelay = 10 * time.Millisecond
	// CalibrateDelay is how long a manual SCAL takes to settle.
	CalibrateDelay = time.Millisecond

	DefaultPolls        = 50
	DefaultPollInterval = 100 * time.Microsecond

	// MaxBurst is the largest FIFO burst read, the RX FIFO is 64 bytes.
	MaxBurst = 64
)

// Conn is the half of a periph spi.Conn the driver needs.
type Conn interface {
	Tx(w, r []byte) error
}

// ChipError is returned by Reset when the VERSION register doesn't identify a
// supported chip. This usually means the SPI wiring is wrong.
type ChipError struct {
	Version byte
}

func (e *ChipError) Error() string {
	return fmt.Sprintf("unsupported cc1101 version: 0x%02X", e.Version)
}

// State is the coarse radio state derived from MARCSTATE.
type State int

const (
	StateOther State = iota
	StateIdle
	StateReceiving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	}
	return "other"
}

// Radio is a CC1101 behind an SPI connection.
type Radio struct {
	conn  Conn
	log   logrus.FieldLogger
	sleep func(time.Duration)

	// Polls and PollInterval bound the wait for a state transition. When the
	// budget runs out the driver logs and carries on.
	Polls        int
	PollInterval time.Duration

	version byte

	w, r [MaxBurst + 1]byte
}

// Option configures a Radio.
type Option func(*Radio)

// WithLogger sets the logger, the default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Radio) { r.log = l }
}

// WithSleep replaces time.Sleep, tests use it to run without delays.
func WithSleep(fn func(time.Duration)) Option {
	return func(r *Radio) { r.sleep = fn }
}

func New(conn Conn, opts ...Option) *Radio {
	r := &Radio{
		conn:         conn,
		log:          logrus.StandardLogger(),
		sleep:        time.Sleep,
		Polls:        DefaultPolls,
		PollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Version returns the VERSION register read by the last successful Reset.
func (r *Radio) Version() byte {
	return r.version
}

func (r *Radio) tx(n int) error {
	return errors.Wrap(r.conn.Tx(r.w[:n], r.r[:n]), "spi transfer")
}

// Strobe issues a single byte command.
func (r *Radio) Strobe(cmd byte) error {
	r.w[0] = cmd
	return r.tx(1)
}

func (r *Radio) WriteRegister(addr, value byte) error {
	r.w[0], r.w[1] = addr, value
	return r.tx(2)
}

func (r *Radio) ReadRegister(addr byte) (byte, error) {
	r.w[0], r.w[1] = addr|ReadSingle, 0
	if err := r.tx(2); err != nil {
		return 0, err
	}
	return r.r[1], nil
}

// ReadStatus reads a status register. Status registers share addresses with
// strobes and are only reachable with the burst bit set.
func (r *Radio) ReadStatus(addr byte) (byte, error) {
	r.w[0], r.w[1] = addr|ReadBurst, 0
	if err := r.tx(2); err != nil {
		return 0, err
	}
	return r.r[1], nil
}

// ReadByte pops one byte from the RX FIFO.
func (r *Radio) ReadByte() (byte, error) {
	return r.ReadRegister(RXFIFO)
}

// ReadBurst fills buf from the RX FIFO in a single transfer.
func (r *Radio) ReadBurst(buf []byte) error {
	n := len(buf)
	if n == 0 {
		return nil
	}
	if n > MaxBurst {
		return errors.Errorf("burst of %d bytes exceeds fifo size %d", n, MaxBurst)
	}

	r.w[0] = RXFIFO | ReadBurst
	for i := 1; i <= n; i++ {
		r.w[i] = 0
	}
	if err := r.tx(n + 1); err != nil {
		return err
	}
	copy(buf, r.r[1:n+1])

	return nil
}

// Reset issues SRES and checks the chip version.
func (r *Radio) Reset() error {
	if err := r.Strobe(SRES); err != nil {
		return errors.Wrap(err, "reset")
	}
	r.sleep(ResetDelay)

	version, err := r.ReadStatus(VERSION)
	if err != nil {
		return errors.Wrap(err, "read version")
	}
	r.log.WithField("version", fmt.Sprintf("0x%02X", version)).Debug("cc1101 reset")

	for _, v := range KnownVersions {
		if version == v {
			r.version = version
			return nil
		}
	}

	return &ChipError{version}
}

// Configure writes every register of the profile in order.
func (r *Radio) Configure(p Profile) error {
	for _, s := range p {
		if err := r.WriteRegister(s.Addr, s.Value); err != nil {
			return errors.Wrapf(err, "write register 0x%02X", s.Addr)
		}
	}
	r.log.WithField("profile", p).Debug("cc1101 configured")
	return nil
}

// Calibrate runs a manual frequency synthesizer calibration.
func (r *Radio) Calibrate() error {
	if err := r.Strobe(SCAL); err != nil {
		return errors.Wrap(err, "calibrate")
	}
	r.sleep(CalibrateDelay)
	return nil
}

// ArmReceive puts the radio back into RX with an empty FIFO: idle, flush,
// receive. Waiting for each transition is bounded by Polls.
func (r *Radio) ArmReceive() error {
	if err := r.Strobe(SIDLE); err != nil {
		return errors.Wrap(err, "idle")
	}
	if err := r.waitState(StateIdle); err != nil {
		return err
	}
	if err := r.Strobe(SFRX); err != nil {
		return errors.Wrap(err, "flush rx fifo")
	}
	if err := r.Strobe(SRX); err != nil {
		return errors.Wrap(err, "receive")
	}
	return r.waitState(StateReceiving)
}

func (r *Radio) waitState(want State) error {
	var state State
	for i := 0; i < r.Polls; i++ {
		var err error
		if state, err = r.State(); err != nil {
			return err
		}
		if state == want {
			return nil
		}
		r.sleep(r.PollInterval)
	}

	r.log.WithFields(logrus.Fields{
		"want":  want,
		"state": state,
	}).Debug("timed out waiting for marcstate")

	return nil
}

// State reads MARCSTATE.
func (r *Radio) State() (State, error) {
	state, err := r.ReadStatus(MARCSTATE)
	if err != nil {
		return StateOther, errors.Wrap(err, "read marcstate")
	}

	switch state & MarcStateMask {
	case MarcStateIdle:
		return StateIdle, nil
	case MarcStateRX:
		return StateReceiving, nil
	}
	return StateOther, nil
}

// RSSI returns the received signal strength in dBm.
func (r *Radio) RSSI() (float64, error) {
	raw, err := r.ReadStatus(RSSI)
	if err != nil {
		return 0, errors.Wrap(err, "read rssi")
	}
	return float64(int8(raw))/2 - 74, nil
}

// SignalQuality maps an RSSI in dBm linearly onto 0..100 percent, from -100
// dBm to -50 dBm.
func SignalQuality(dbm float64) float64 {
	q := 2 * (dbm + 100)
	switch {
	case q < 0:
		return 0
	case q > 100:
		return 100
	}
	return q
}

// Init brings the radio from power on to receiving with profile p.
func (r *Radio) Init(p Profile) error {
	if err := r.Reset(); err != nil {
		return err
	}
	if err := r.Configure(p); err != nil {
		return err
	}
	if err := r.Calibrate(); err != nil {
		return err
	}
	return r.ArmReceive()
}
