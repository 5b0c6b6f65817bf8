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

// Package publish delivers readings to their consumers: an encoded stream on
// stdout and an MQTT broker.
package publish

import (
	"context"

	"github.com/bemasher/multical21/receiver"
	"github.com/pkg/errors"
)

// Publisher is a destination for readings and diagnostics.
type Publisher interface {
	Publish(ctx context.Context, upd receiver.Update) error
	PublishStats(ctx context.Context, st receiver.Stats) error
	Close() error
}

// Multi fans out to every publisher. All publishers are tried, the first error
// is returned.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, upd receiver.Update) (err error) {
	for _, p := range m {
		if perr := p.Publish(ctx, upd); perr != nil && err == nil {
			err = perr
		}
	}
	return
}

func (m Multi) PublishStats(ctx context.Context, st receiver.Stats) (err error) {
	for _, p := range m {
		if perr := p.PublishStats(ctx, st); perr != nil && err == nil {
			err = perr
		}
	}
	return
}

func (m Multi) Close() (err error) {
	for _, p := range m {
		if perr := p.Close(); perr != nil && err == nil {
			err = errors.Wrap(perr, "close publisher")
		}
	}
	return
}

// Filter decides whether an update is passed on.
type Filter interface {
	Filter(receiver.Update) bool
}

type FilterChain []Filter

func (fc *FilterChain) Add(filter Filter) {
	*fc = append(*fc, filter)
}

// Match reports whether every filter accepts upd. An empty chain accepts
// everything.
func (fc FilterChain) Match(upd receiver.Update) bool {
	for _, filter := range fc {
		if !filter.Filter(upd) {
			return false
		}
	}
	return true
}

// UniqueFilter drops readings whose values equal the previous reading's. The
// meter repeats its values every few seconds while nothing changes.
type UniqueFilter struct {
	prev receiver.Update
	seen bool
}

func (uf *UniqueFilter) Filter(upd receiver.Update) bool {
	p, r := uf.prev.Reading, upd.Reading
	if uf.seen && uf.prev.Meter == upd.Meter &&
		p.TotalM3 == r.TotalM3 &&
		p.MonthStartM3 == r.MonthStartM3 &&
		p.FlowTempC == r.FlowTempC &&
		p.AmbientTempC == r.AmbientTempC {
		return false
	}

	uf.prev, uf.seen = upd, true
	return true
}

// Filtered only passes updates matched by Chain to Publisher. Diagnostics are
// always passed.
type Filtered struct {
	Publisher
	Chain FilterChain
}

func (f Filtered) Publish(ctx context.Context, upd receiver.Update) error {
	if !f.Chain.Match(upd) {
		return nil
	}
	return f.Publisher.Publish(ctx, upd)
}
