package reading_test

import (
	"testing"
	"time"

	"github.com/bemasher/multical21/gen"
	"github.com/bemasher/multical21/reading"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLayoutOffsetsFit(t *testing.T) {
	for _, l := range []reading.Layout{reading.Compact, reading.Long} {
		assert.LessOrEqual(t, l.Total+4, l.MinLength, l.Name)
		assert.LessOrEqual(t, l.MonthStart+4, l.MinLength, l.Name)
		assert.Less(t, l.FlowTemp, l.MinLength, l.Name)
		assert.Less(t, l.AmbientTemp, l.MinLength, l.Name)
		assert.True(t, l.Total < l.MonthStart && l.MonthStart < l.FlowTemp && l.FlowTemp < l.AmbientTemp, l.Name)
	}
}

func TestLayoutFor(t *testing.T) {
	l, err := reading.LayoutFor(0x79)
	require.NoError(t, err)
	assert.Equal(t, reading.Compact, l)

	l, err = reading.LayoutFor(0x78)
	require.NoError(t, err)
	assert.Equal(t, reading.Long, l)

	for _, ci := range []byte{0x00, 0x72, 0x7A, 0x8D, 0xFF} {
		_, err := reading.LayoutFor(ci)
		var uerr *reading.UnknownFrameTypeError
		require.True(t, errors.As(err, &uerr), "ci 0x%02X", ci)
		assert.Equal(t, ci, uerr.CI)
	}
}

func TestParseCompact(t *testing.T) {
	p := gen.Payload(reading.Compact, gen.Values{
		TotalLitres:      123456,
		MonthStartLitres: 100000,
		FlowTemp:         25,
		AmbientTemp:      20,
	})

	r, err := reading.Parse(p, at)
	require.NoError(t, err)
	assert.Equal(t, reading.Reading{
		Time:         at,
		Layout:       "compact",
		TotalM3:      123.456,
		MonthStartM3: 100,
		FlowTempC:    25,
		AmbientTempC: 20,
	}, r)
}

func TestParseLong(t *testing.T) {
	p := gen.Payload(reading.Long, gen.Values{
		TotalLitres:      999999,
		MonthStartLitres: 500000,
		FlowTemp:         30,
		AmbientTemp:      22,
	})

	r, err := reading.Parse(p, at)
	require.NoError(t, err)
	assert.Equal(t, "long", r.Layout)
	assert.Equal(t, 999.999, r.TotalM3)
	assert.Equal(t, 500.0, r.MonthStartM3)
	assert.Equal(t, uint8(30), r.FlowTempC)
	assert.Equal(t, uint8(22), r.AmbientTempC)
}

func TestParseExtraBytes(t *testing.T) {
	p := gen.Payload(reading.Compact, gen.Values{TotalLitres: 10000})
	p = append(p, 0x2F, 0x2F, 0x2F)
	gen.Seal(p)

	r, err := reading.Parse(p, at)
	require.NoError(t, err)
	assert.Equal(t, 10.0, r.TotalM3)
}

// An unknown CI byte is rejected even if the CRC is wrong, the CRC is not
// consulted.
func TestParseUnknownTypeSkipsChecksum(t *testing.T) {
	p := gen.Payload(reading.Compact, gen.Values{})
	p[2] = 0x7A
	p[0] ^= 0xFF

	_, err := reading.Parse(p, at)
	var uerr *reading.UnknownFrameTypeError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, byte(0x7A), uerr.CI)

	var cerr *reading.ChecksumError
	assert.False(t, errors.As(err, &cerr))
}

func TestParseChecksumMismatch(t *testing.T) {
	p := gen.Payload(reading.Compact, gen.Values{TotalLitres: 12345})
	p[reading.Compact.Total] ^= 0x01

	_, err := reading.Parse(p, at)
	var cerr *reading.ChecksumError
	require.True(t, errors.As(err, &cerr))
	assert.NotEqual(t, cerr.Calculated, cerr.Read)
}

func TestParseShort(t *testing.T) {
	for _, p := range [][]byte{nil, {0x00}, {0x00, 0x00}} {
		_, err := reading.Parse(p, at)
		var serr *reading.ShortPayloadError
		assert.True(t, errors.As(err, &serr), "%02X", p)
	}

	// A long header with compact-sized data.
	p := gen.Payload(reading.Compact, gen.Values{})
	p[2] = reading.Long.CI
	gen.Seal(p)

	_, err := reading.Parse(p, at)
	var serr *reading.ShortPayloadError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "long", serr.Layout)
	assert.Equal(t, reading.Long.MinLength, serr.Min)
}

func TestVerify(t *testing.T) {
	// CRC of an empty remainder is 0xFFFF, stored least significant byte first.
	assert.NoError(t, reading.Verify([]byte{0xFF, 0xFF}))

	// CRC of {0x01} is 0xC29A.
	assert.NoError(t, reading.Verify([]byte{0x9A, 0xC2, 0x01}))

	err := reading.Verify([]byte{0xC2, 0x9A, 0x01})
	var cerr *reading.ChecksumError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, uint16(0xC29A), cerr.Calculated)
	assert.Equal(t, uint16(0x9AC2), cerr.Read)
}

func TestRecord(t *testing.T) {
	r := reading.Reading{Time: at, Layout: "compact", TotalM3: 10, MonthStartM3: 9.5, FlowTempC: 14, AmbientTempC: 21}
	assert.Equal(t, []string{"2026-03-01T12:00:00Z", "compact", "10.000", "9.500", "14", "21"}, r.Record())
	assert.Contains(t, r.String(), "Total:10.000")
}
