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

// Package decrypt implements the AES-128 counter mode used by Multical 21
// telegrams.
package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/bemasher/multical21/frame"
	"github.com/pkg/errors"
)

const KeySize = 16

// Key is an AES-128 meter key.
type Key [KeySize]byte

// ParseKey decodes the first 32 hex digits of s.
func ParseKey(s string) (k Key, err error) {
	err = frame.DecodeHex(k[:], s)
	return
}

// String never prints the key material.
func (k Key) String() string {
	return "<redacted>"
}

// LengthError is returned for ciphertext lengths that can't be decrypted.
type LengthError struct {
	Length int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("invalid cipher length: %d (want 1..%d)", e.Length, frame.MaxCipherLength)
}

// Decryptor holds an expanded key. The key schedule is computed once in New
// and reused for every frame.
type Decryptor struct {
	block cipher.Block

	counter   [aes.BlockSize]byte
	keystream [aes.BlockSize]byte
}

func New(key Key) (*Decryptor, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "invalid AES key")
	}
	return &Decryptor{block: block}, nil
}

// XORKeyStream xors src with the counter mode keystream seeded by iv and
// writes the result to dst. Encryption and decryption are the same operation.
// The counter is a 128-bit big endian integer incremented after every block,
// including a final partial block. dst must be at least len(src) bytes.
func (d *Decryptor) XORKeyStream(dst, src []byte, iv [aes.BlockSize]byte) error {
	if len(src) == 0 || len(src) > frame.MaxCipherLength {
		return &LengthError{len(src)}
	}
	if len(dst) < len(src) {
		return errors.Errorf("output buffer too small: %d < %d", len(dst), len(src))
	}

	d.counter = iv
	for idx := 0; idx < len(src); idx += aes.BlockSize {
		d.block.Encrypt(d.keystream[:], d.counter[:])

		end := idx + aes.BlockSize
		if end > len(src) {
			end = len(src)
		}
		for j := idx; j < end; j++ {
			dst[j] = src[j] ^ d.keystream[j-idx]
		}

		increment(&d.counter)
	}

	return nil
}

// Decrypt decrypts the ciphertext of f into dst and returns the plaintext.
func (d *Decryptor) Decrypt(dst []byte, f *frame.Frame) ([]byte, error) {
	n := f.CipherLength()
	if n <= 0 || n > frame.MaxCipherLength {
		return nil, &LengthError{n}
	}
	if len(dst) < n {
		return nil, errors.Errorf("output buffer too small: %d < %d", len(dst), n)
	}
	if err := d.XORKeyStream(dst[:n], f.Ciphertext(), f.IV()); err != nil {
		return nil, err
	}
	return dst[:n], nil
}

func increment(ctr *[aes.BlockSize]byte) {
	for idx := len(ctr) - 1; idx >= 0; idx-- {
		ctr[idx]++
		if ctr[idx] != 0 {
			return
		}
	}
}
