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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bemasher/multical21/cc1101"
	"github.com/bemasher/multical21/decrypt"
	"github.com/bemasher/multical21/frame"
	"github.com/bemasher/multical21/publish"
	"github.com/bemasher/multical21/receiver"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var (
	buildTag   = "dev"     // v#.#.#
	buildDate  = "unknown" // date -u '+%Y-%m-%d'
	commitHash = "unknown" // git rev-parse HEAD
)

// Ticker is the part of receiver.Session driven by Run.
type Ticker interface {
	Tick() (receiver.Update, bool)
	Stats() receiver.Stats
}

// Run calls Tick every cfg.Tick and publishes each reading. Diagnostics are
// published whenever they change. Run returns when ctx is done or the time
// limit expires. In single mode it also returns after the first reading.
func Run(ctx context.Context, s Ticker, pub publish.Publisher, cfg Config, log logrus.FieldLogger) {
	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	var tLimit <-chan time.Time
	if cfg.Duration != 0 {
		timer := time.NewTimer(cfg.Duration)
		defer timer.Stop()
		tLimit = timer.C
	}

	start := time.Now()
	var stats receiver.Stats

	for {
		select {
		case <-ctx.Done():
			return
		case <-tLimit:
			log.WithField("elapsed", time.Since(start)).Info("time limit reached")
			return
		case <-ticker.C:
			upd, ok := s.Tick()
			if ok {
				if err := pub.Publish(ctx, upd); err != nil {
					log.WithError(err).Error("publish reading")
				}
			}

			if st := s.Stats(); st != stats {
				stats = st
				if err := pub.PublishStats(ctx, st); err != nil {
					log.WithError(err).Error("publish diagnostics")
				}
			}

			if ok && cfg.Single {
				return
			}
		}
	}
}

// NewPublisher builds the configured outputs: the encoded stream on w unless
// the format is none, and MQTT when a broker is given.
func NewPublisher(ctx context.Context, cfg Config, meter frame.MeterID, w io.Writer, log logrus.FieldLogger) (publish.Publisher, error) {
	var pubs publish.Multi

	if cfg.Format != FormatNone {
		enc, err := publish.NewEncoder(cfg.Format, w)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, publish.NewWriter(enc))
	}

	if cfg.MQTT.Broker != "" {
		last, err := publish.NewLastUpdate(cfg.TimestampFormat, time.Now())
		if err != nil {
			return nil, err
		}

		mqttCfg := cfg.MQTT
		if mqttCfg.ClientID == "" {
			mqttCfg.ClientID = "multical21-" + meter.String()
		}

		m := publish.NewMQTT(publish.NewClient(mqttCfg, log), mqttCfg, meter, last, log)
		if err := m.Connect(ctx); err != nil {
			return nil, err
		}
		pubs = append(pubs, m)
	}

	var pub publish.Publisher = pubs
	if cfg.Unique {
		pub = publish.Filtered{
			Publisher: pub,
			Chain:     publish.FilterChain{&publish.UniqueFilter{}},
		}
	}

	return pub, nil
}

func run(ctx context.Context, cfg Config, log *logrus.Logger) error {
	meter, err := frame.ParseMeterID(cfg.MeterID)
	if err != nil {
		return err
	}
	key, err := decrypt.ParseKey(cfg.Key)
	if err != nil {
		return err
	}
	speed, err := cc1101.ParseSpeed(cfg.SPI.Speed)
	if err != nil {
		return err
	}

	port, conn, err := cc1101.OpenSPI(cfg.SPI.Port, speed)
	if err != nil {
		return err
	}
	defer port.Close()

	pin, err := cc1101.OpenPin(cfg.GPIO.Chip, cfg.GPIO.GDO0)
	if err != nil {
		return err
	}
	defer pin.Close()

	radio := cc1101.New(conn, cc1101.WithLogger(log))
	if err := radio.Init(cc1101.ModeC1); err != nil {
		return err
	}
	log.WithField("version", fmt.Sprintf("0x%02X", radio.Version())).Info("cc1101 initialized")

	session, err := receiver.New(radio, pin, meter, key, receiver.WithLogger(log))
	if err != nil {
		return err
	}

	pub, err := NewPublisher(ctx, cfg, meter, os.Stdout, log)
	if err != nil {
		return err
	}
	defer pub.Close()

	Run(ctx, session, pub, cfg, log)

	return nil
}

func main() {
	name := filepath.Base(os.Args[0])
	bootLog := logrus.StandardLogger()

	cfg, opts, err := ParseArgs(name, os.Args[1:], os.Getenv, bootLog)
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		bootLog.Fatal(err)
	}

	if opts.Version {
		fmt.Println("Build Tag: ", buildTag)
		fmt.Println("Build Date:", buildDate)
		fmt.Println("Commit:    ", commitHash)
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		bootLog.Fatal(err)
	}

	log, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		bootLog.Fatal(err)
	}
	cfg.Dump(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		var chipErr *cc1101.ChipError
		if errors.As(err, &chipErr) {
			log.WithError(err).Fatal("check the spi wiring")
		}
		log.Fatal(err)
	}
}
