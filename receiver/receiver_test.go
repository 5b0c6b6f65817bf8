package receiver

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/bemasher/multical21/decrypt"
	"github.com/bemasher/multical21/frame"
	"github.com/bemasher/multical21/gen"
	"github.com/bemasher/multical21/reading"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	meterHex = "12345678"
	keyHex   = "000102030405060708090A0B0C0D0E0F"
)

// fakeRadio serves telegrams from a queue, loading the next one into the FIFO
// each time it is armed.
type fakeRadio struct {
	fifo  []byte
	queue [][]byte
	arms  int
	reads int
	err   error

	armErr  error
	rssi    float64
	rssiErr error
}

func (r *fakeRadio) ReadByte() (byte, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.reads++
	if len(r.fifo) == 0 {
		return 0, nil
	}
	b := r.fifo[0]
	r.fifo = r.fifo[1:]
	return b, nil
}

func (r *fakeRadio) ReadBurst(buf []byte) error {
	if r.err != nil {
		return r.err
	}
	r.reads++
	n := copy(buf, r.fifo)
	for idx := n; idx < len(buf); idx++ {
		buf[idx] = 0
	}
	r.fifo = r.fifo[n:]
	return nil
}

func (r *fakeRadio) ArmReceive() error {
	r.arms++
	r.fifo = nil
	if r.armErr != nil {
		return r.armErr
	}
	if len(r.queue) > 0 {
		r.fifo, r.queue = r.queue[0], r.queue[1:]
	}
	return nil
}

func (r *fakeRadio) RSSI() (float64, error) {
	return r.rssi, r.rssiErr
}

// Pending mirrors GDO0: low while the FIFO holds data.
func (r *fakeRadio) Pending() (bool, error) {
	return len(r.fifo) > 0, nil
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time {
	return c.t
}

func mustMeter(t *testing.T, s string) frame.MeterID {
	t.Helper()
	id, err := frame.ParseMeterID(s)
	require.NoError(t, err)
	return id
}

func mustKey(t *testing.T, s string) decrypt.Key {
	t.Helper()
	k, err := decrypt.ParseKey(s)
	require.NoError(t, err)
	return k
}

func newSession(t *testing.T, telegrams ...[]byte) (*Session, *fakeRadio, *clock, *test.Hook) {
	t.Helper()

	radio := &fakeRadio{}
	if len(telegrams) > 0 {
		radio.fifo = telegrams[0]
		radio.queue = telegrams[1:]
	}

	c := &clock{time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	s, err := New(radio, radio, mustMeter(t, meterHex), mustKey(t, keyHex),
		WithLogger(logger), WithClock(c.now),
	)
	require.NoError(t, err)

	return s, radio, c, hook
}

func telegram(t *testing.T, meter string, key string, plaintext []byte) []byte {
	t.Helper()
	raw, err := gen.Frame(gen.Header{
		Meter:   mustMeter(t, meter),
		Control: 0x20,
		Access:  0x5A,
		Session: 0x01020304,
	}, mustKey(t, key), plaintext)
	require.NoError(t, err)
	return gen.Telegram(raw)
}

func compact(total, month uint32, flowTemp, ambientTemp uint8) []byte {
	return gen.Payload(reading.Compact, gen.Values{
		TotalLitres:      total,
		MonthStartLitres: month,
		FlowTemp:         flowTemp,
		AmbientTemp:      ambientTemp,
	})
}

func TestTickCompact(t *testing.T) {
	s, radio, c, _ := newSession(t, telegram(t, meterHex, keyHex, compact(10000, 9500, 14, 21)))

	upd, ok := s.Tick()
	require.True(t, ok)
	assert.Equal(t, 1, radio.arms)

	r := upd.Reading
	assert.InDelta(t, 10.000, r.TotalM3, 1e-9)
	assert.InDelta(t, 9.500, r.MonthStartM3, 1e-9)
	assert.Equal(t, uint8(14), r.FlowTempC)
	assert.Equal(t, uint8(21), r.AmbientTempC)
	assert.Equal(t, reading.Compact.Name, r.Layout)
	assert.Equal(t, c.t, r.Time)
	assert.Equal(t, mustMeter(t, meterHex), upd.Meter)
	assert.False(t, upd.FlowOK)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, upd, last)

	assert.Equal(t, Stats{Frames: 1, Readings: 1}, s.Stats())
}

func TestTickLong(t *testing.T) {
	payload := gen.Payload(reading.Long, gen.Values{
		TotalLitres:      123456,
		MonthStartLitres: 120000,
		FlowTemp:         9,
		AmbientTemp:      25,
	})
	s, _, _, _ := newSession(t, telegram(t, meterHex, keyHex, payload))

	upd, ok := s.Tick()
	require.True(t, ok)
	assert.InDelta(t, 123.456, upd.Reading.TotalM3, 1e-9)
	assert.InDelta(t, 120.000, upd.Reading.MonthStartM3, 1e-9)
	assert.Equal(t, uint8(9), upd.Reading.FlowTempC)
	assert.Equal(t, uint8(25), upd.Reading.AmbientTempC)
	assert.Equal(t, reading.Long.Name, upd.Reading.Layout)
}

func TestTickIdle(t *testing.T) {
	s, radio, _, _ := newSession(t)

	_, ok := s.Tick()
	assert.False(t, ok)
	assert.Zero(t, radio.reads)
	assert.Zero(t, radio.arms)
	assert.Equal(t, Stats{}, s.Stats())
}

func TestNoPreamble(t *testing.T) {
	for _, fifo := range [][]byte{
		{0x00, 0x3D, 0x20},
		{0x54, 0x00, 0x20},
		{0x3D, 0x54, 0x20},
	} {
		s, radio, _, hook := newSession(t, fifo)

		_, err := s.Receive()
		assert.True(t, errors.Is(err, ErrNoPreamble))
		assert.Equal(t, 1, radio.arms)
		assert.Equal(t, 2, radio.reads, "length byte must not be read")
		assert.Equal(t, uint64(1), s.Stats().NoPreamble)
		assert.Empty(t, hook.AllEntries())
	}
}

func TestLengthBounds(t *testing.T) {
	for l := 0; l < 256; l++ {
		raw := make([]byte, l)
		fifo := append([]byte{frame.Preamble1, frame.Preamble2, byte(l)}, raw...)
		s, radio, _, _ := newSession(t, fifo)

		_, err := s.Receive()
		require.Error(t, err)
		assert.Equal(t, 1, radio.arms)

		var lengthErr *LengthError
		if frame.ValidLength(l) {
			assert.Falsef(t, errors.As(err, &lengthErr), "length %d", l)
			assert.Equal(t, uint64(1), s.Stats().Frames)
			continue
		}

		require.Truef(t, errors.As(err, &lengthErr), "length %d", l)
		assert.Equal(t, l, lengthErr.Length)
		assert.Zero(t, s.Stats().Frames)
		assert.Equal(t, uint64(1), s.Stats().LengthErrors)
		assert.Equal(t, 3, radio.reads)
	}
}

func TestForeignMeter(t *testing.T) {
	s, radio, _, _ := newSession(t, telegram(t, "87654321", keyHex, compact(1, 1, 1, 1)))

	_, err := s.Receive()
	assert.True(t, errors.Is(err, ErrForeignMeter))
	assert.Equal(t, 1, radio.arms)
	assert.Equal(t, Stats{Frames: 1, Foreign: 1}, s.Stats())

	_, ok := s.Last()
	assert.False(t, ok)
}

func TestChecksumMismatch(t *testing.T) {
	payload := compact(10000, 9500, 14, 21)
	payload[9] ^= 0x01

	s, _, _, hook := newSession(t, telegram(t, meterHex, keyHex, payload))

	_, ok := s.Tick()
	assert.False(t, ok)
	assert.Equal(t, Stats{Frames: 1, CRCErrors: 1}, s.Stats())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Contains(t, entry.Data, "calc")
	assert.Contains(t, entry.Data, "read")
}

func TestWrongKey(t *testing.T) {
	s, _, _, _ := newSession(t, telegram(t, meterHex, "FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF", compact(10000, 9500, 14, 21)))

	_, err := s.Receive()
	require.Error(t, err)
	assert.Equal(t, logrus.WarnLevel, Level(err))
	assert.Zero(t, s.Stats().Readings)
}

func TestUnknownFrameType(t *testing.T) {
	payload := compact(10000, 9500, 14, 21)
	payload[2] = 0x72
	gen.Seal(payload)

	s, _, _, hook := newSession(t, telegram(t, meterHex, keyHex, payload))

	_, ok := s.Tick()
	assert.False(t, ok)
	assert.Equal(t, Stats{Frames: 1, ParseErrors: 1}, s.Stats())
	assert.Equal(t, byte(0x72), hook.LastEntry().Data["ci"])
}

func TestShortPayload(t *testing.T) {
	payload := compact(10000, 9500, 14, 21)[:reading.Compact.MinLength-1]
	gen.Seal(payload)

	s, _, _, _ := newSession(t, telegram(t, meterHex, keyHex, payload))

	_, err := s.Receive()
	var shortErr *reading.ShortPayloadError
	require.True(t, errors.As(err, &shortErr))
	assert.Equal(t, Stats{Frames: 1, ParseErrors: 1}, s.Stats())
}

func TestEmptyCiphertext(t *testing.T) {
	raw := make([]byte, frame.MinLength)
	id := mustMeter(t, meterHex)
	for idx := range id {
		raw[6-idx] = id[idx]
	}

	s, _, _, _ := newSession(t, gen.Telegram(raw))

	_, err := s.Receive()
	var lengthErr *decrypt.LengthError
	require.True(t, errors.As(err, &lengthErr))
	assert.Zero(t, lengthErr.Length)
	assert.Equal(t, Stats{Frames: 1, DecryptErrors: 1}, s.Stats())
}

func TestRadioError(t *testing.T) {
	s, radio, _, hook := newSession(t, []byte{frame.Preamble1})
	radio.err = errors.New("bus fault")

	_, ok := s.Tick()
	assert.False(t, ok)
	assert.Equal(t, 1, radio.arms)
	assert.Equal(t, uint64(1), s.Stats().RadioErrors)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestSignalQuality(t *testing.T) {
	s, radio, _, hook := newSession(t, telegram(t, meterHex, keyHex, compact(10000, 9500, 14, 21)))
	radio.rssi = -70

	upd, ok := s.Tick()
	require.True(t, ok)
	require.True(t, upd.RSSIOK)
	assert.Equal(t, -70.0, upd.RSSI)
	assert.Equal(t, 60.0, upd.SignalQuality)
	assert.Equal(t, -70.0, hook.LastEntry().Data["rssi"])
}

func TestSignalQualityUnavailable(t *testing.T) {
	s, radio, _, hook := newSession(t, telegram(t, meterHex, keyHex, compact(10000, 9500, 14, 21)))
	radio.rssiErr = errors.New("bus fault")

	upd, ok := s.Tick()
	require.True(t, ok)
	assert.False(t, upd.RSSIOK)
	assert.Zero(t, upd.SignalQuality)
	assert.Equal(t, Stats{Frames: 1, Readings: 1}, s.Stats())

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Message == "sample rssi" {
			warned = e.Level == logrus.WarnLevel
		}
	}
	assert.True(t, warned)
}

func TestRearmFailureKeepsFrame(t *testing.T) {
	s, radio, _, hook := newSession(t, telegram(t, meterHex, keyHex, compact(10000, 9500, 14, 21)))
	radio.armErr = errors.New("stuck in calibration")

	upd, ok := s.Tick()
	require.True(t, ok)
	assert.InDelta(t, 10.000, upd.Reading.TotalM3, 1e-9)
	assert.Equal(t, 1, radio.arms)
	assert.Equal(t, Stats{Frames: 1, Readings: 1}, s.Stats())

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "re-arm" {
			logged = e.Level == logrus.ErrorLevel
		}
	}
	assert.True(t, logged)
}

func TestFlowAcrossFrames(t *testing.T) {
	s, _, c, _ := newSession(t,
		telegram(t, meterHex, keyHex, compact(10000, 9500, 14, 21)),
		telegram(t, meterHex, keyHex, compact(10050, 9500, 14, 21)),
		telegram(t, meterHex, keyHex, compact(9000, 9500, 14, 21)),
	)
	start := c.t

	upd, ok := s.Tick()
	require.True(t, ok)
	assert.False(t, upd.FlowOK)

	c.t = start.Add(time.Hour)
	upd, ok = s.Tick()
	require.True(t, ok)
	require.True(t, upd.FlowOK)
	assert.InDelta(t, 50, upd.FlowLPH, 1e-6)

	c.t = start.Add(time.Hour + 100*time.Millisecond)
	upd, ok = s.Tick()
	require.True(t, ok)
	assert.False(t, upd.FlowOK)

	total, at, ok := s.Flow().State()
	require.True(t, ok)
	assert.InDelta(t, 9.0, total, 1e-9)
	assert.Equal(t, c.t, at)

	assert.Equal(t, uint64(3), s.Stats().Readings)
}

func TestRearmAfterEveryAttempt(t *testing.T) {
	s, radio, _, _ := newSession(t,
		[]byte{0x00, 0x00},
		telegram(t, "87654321", keyHex, compact(1, 1, 1, 1)),
		[]byte{frame.Preamble1, frame.Preamble2, 0x05},
		telegram(t, meterHex, keyHex, compact(10000, 9500, 14, 21)),
	)

	var readings int
	for idx := 0; idx < 10; idx++ {
		if _, ok := s.Tick(); ok {
			readings++
		}
	}

	assert.Equal(t, 1, readings)
	assert.Equal(t, 4, radio.arms)
	assert.Equal(t, Stats{
		Frames:       2,
		NoPreamble:   1,
		Foreign:      1,
		LengthErrors: 1,
		Readings:     1,
	}, s.Stats())
}

func TestSetMeterID(t *testing.T) {
	s, _, _, _ := newSession(t)
	prev := s.Meter()

	require.NoError(t, s.SetMeterID("1234"))
	assert.Equal(t, prev, s.Meter())

	assert.Error(t, s.SetMeterID("1234567G"))
	assert.Equal(t, prev, s.Meter())

	require.NoError(t, s.SetMeterID("87654321"))
	assert.Equal(t, mustMeter(t, "87654321"), s.Meter())
}

func TestSetKey(t *testing.T) {
	other := "FFEEDDCCBBAA99887766554433221100"
	s, _, _, _ := newSession(t, telegram(t, meterHex, other, compact(10000, 9500, 14, 21)))

	require.NoError(t, s.SetKey(other[:31]))
	assert.Error(t, s.SetKey("ZZ"+other[2:]))
	require.NoError(t, s.SetKey(other))

	_, ok := s.Tick()
	assert.True(t, ok)
}

func TestLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, Level(ErrNoPreamble))
	assert.Equal(t, logrus.DebugLevel, Level(errors.Wrap(ErrForeignMeter, "frame")))
	assert.Equal(t, logrus.WarnLevel, Level(&LengthError{12}))
	assert.Equal(t, logrus.WarnLevel, Level(&decrypt.LengthError{}))
	assert.Equal(t, logrus.WarnLevel, Level(&reading.ChecksumError{}))
	assert.Equal(t, logrus.WarnLevel, Level(&reading.UnknownFrameTypeError{}))
	assert.Equal(t, logrus.WarnLevel, Level(&reading.ShortPayloadError{}))
	assert.Equal(t, logrus.ErrorLevel, Level(errors.New("spi transfer")))
}

func TestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := rapid.SampledFrom([]reading.Layout{reading.Compact, reading.Long}).Draw(t, "layout")
		v := gen.Values{
			TotalLitres:      rapid.Uint32().Draw(t, "total"),
			MonthStartLitres: rapid.Uint32().Draw(t, "month"),
			FlowTemp:         rapid.Uint8().Draw(t, "flow"),
			AmbientTemp:      rapid.Uint8().Draw(t, "ambient"),
		}
		var id frame.MeterID
		binary.BigEndian.PutUint32(id[:], rapid.Uint32().Draw(t, "meter"))
		var key decrypt.Key
		copy(key[:], rapid.SliceOfN(rapid.Byte(), decrypt.KeySize, decrypt.KeySize).Draw(t, "key"))

		raw, err := gen.Frame(gen.Header{
			Meter:   id,
			Control: rapid.Byte().Draw(t, "control"),
			Access:  rapid.Byte().Draw(t, "access"),
			Session: rapid.Uint32().Draw(t, "session"),
		}, key, gen.Payload(l, v))
		if err != nil {
			t.Fatal(err)
		}

		radio := &fakeRadio{fifo: gen.Telegram(raw)}
		logger, _ := test.NewNullLogger()
		s, err := New(radio, radio, id, key, WithLogger(logger))
		if err != nil {
			t.Fatal(err)
		}

		upd, err := s.Receive()
		if err != nil {
			t.Fatal(err)
		}

		r := upd.Reading
		if r.Layout != l.Name ||
			r.TotalM3 != float64(v.TotalLitres)/1000 ||
			r.MonthStartM3 != float64(v.MonthStartLitres)/1000 ||
			r.FlowTempC != v.FlowTemp ||
			r.AmbientTempC != v.AmbientTemp {
			t.Fatalf("got %s, want %+v", r, v)
		}
	})
}
