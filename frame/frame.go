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

// Package frame holds a single received wireless M-Bus Mode C1 telegram and
// the header fields needed to filter and decrypt it.
//
// On air a telegram is the sync pair 0x54 0x3D, a length byte L and L bytes
// of payload:
//
//	offset  size  field
//	0       1     C field
//	1       2     manufacturer
//	3       4     meter address, least significant byte first
//	7       1     version
//	8       1     device type
//	9       1     CI (extended link layer)
//	10      1     communication control
//	11      1     access number
//	12      4     session number
//	16      L-18  AES-128 CTR encrypted application data
//	L-2     2     link layer CRC
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

const (
	Preamble1 = 0x54
	Preamble2 = 0x3D

	// MinLength and MaxLength bound the length byte: MinLength <= L < MaxLength.
	MinLength = 18
	MaxLength = 64

	HeaderLength  = 16
	TrailerLength = 2

	// MaxCipherLength is the largest ciphertext a frame buffer can carry.
	MaxCipherLength = MaxLength - HeaderLength

	addressOffset = 3
)

// ValidLength reports whether l is an acceptable value for the length byte.
func ValidLength(l int) bool {
	return l >= MinLength && l < MaxLength
}

// Buffer is fixed storage for one telegram.
type Buffer [MaxLength]byte

// Frame is a received telegram. The zero value is empty and ready for use,
// a Frame is meant to be reused for every reception.
type Frame struct {
	buf Buffer
	n   int
}

// Load returns the first l bytes of the buffer for the caller to fill and
// marks them as the frame's content. It panics if l is not a valid length,
// callers must check ValidLength first.
func (f *Frame) Load(l int) []byte {
	if !ValidLength(l) {
		panic(fmt.Sprintf("frame: invalid length %d", l))
	}
	f.n = l
	return f.buf[:l]
}

// Set copies raw into the frame.
func (f *Frame) Set(raw []byte) error {
	if !ValidLength(len(raw)) {
		return errors.Errorf("frame: invalid length %d", len(raw))
	}
	copy(f.Load(len(raw)), raw)
	return nil
}

func (f *Frame) Len() int {
	return f.n
}

func (f *Frame) Bytes() []byte {
	return f.buf[:f.n]
}

func (f *Frame) Manufacturer() uint16 {
	return binary.LittleEndian.Uint16(f.buf[1:3])
}

// Address returns the meter address as transmitted, least significant byte
// first.
func (f *Frame) Address() (a [4]byte) {
	copy(a[:], f.buf[addressOffset:addressOffset+4])
	return
}

func (f *Frame) AccessNumber() byte {
	return f.buf[11]
}

// MatchMeter reports whether the frame was sent by the meter with the given
// identity. The address field is compared in reverse byte order.
func (f *Frame) MatchMeter(id MeterID) bool {
	for idx := range id {
		if id[idx] != f.buf[addressOffset+3-idx] {
			return false
		}
	}
	return true
}

// IV builds the counter block used to decrypt the frame from its manufacturer,
// address, communication control and session number fields.
func (f *Frame) IV() (iv [16]byte) {
	copy(iv[0:8], f.buf[1:9])
	iv[8] = f.buf[10]
	copy(iv[9:13], f.buf[12:16])
	return
}

// CipherLength is the number of encrypted bytes following the header.
func (f *Frame) CipherLength() int {
	return f.n - HeaderLength - TrailerLength
}

// Ciphertext returns the encrypted part of the frame.
func (f *Frame) Ciphertext() []byte {
	if f.CipherLength() <= 0 {
		return nil
	}
	return f.buf[HeaderLength : HeaderLength+f.CipherLength()]
}

func (f *Frame) String() string {
	a := f.Address()
	return fmt.Sprintf("{Length:%d Manufacturer:0x%04X ID:%02X%02X%02X%02X Access:%d}",
		f.n, f.Manufacturer(), a[3], a[2], a[1], a[0], f.AccessNumber(),
	)
}
