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
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/bemasher/multical21/cc1101"
	"github.com/bemasher/multical21/decrypt"
	"github.com/bemasher/multical21/frame"
	"github.com/bemasher/multical21/publish"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// FormatNone disables the output stream.
const FormatNone = "none"

type SPIConfig struct {
	Port  string `yaml:"port"`
	Speed string `yaml:"speed"`
}

type GPIOConfig struct {
	Chip string `yaml:"chip"`
	GDO0 int    `yaml:"gdo0"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	MeterID string `yaml:"meter_id"`
	Key     string `yaml:"key"`

	SPI  SPIConfig  `yaml:"spi"`
	GPIO GPIOConfig `yaml:"gpio"`

	Tick     time.Duration `yaml:"tick"`
	Duration time.Duration `yaml:"duration"`
	Single   bool          `yaml:"single"`

	Format          string `yaml:"format"`
	Unique          bool   `yaml:"unique"`
	TimestampFormat string `yaml:"timestamp_format"`

	MQTT publish.MQTTConfig `yaml:"mqtt"`
	Log  LogConfig          `yaml:"log"`
}

func DefaultConfig() Config {
	return Config{
		SPI:             SPIConfig{Speed: "1MHz"},
		GPIO:            GPIOConfig{Chip: "gpiochip0", GDO0: 25},
		Tick:            5 * time.Millisecond,
		Format:          "plain",
		TimestampFormat: publish.UptimeFormat,
		MQTT: publish.MQTTConfig{
			Topic:   publish.DefaultTopic,
			Timeout: publish.DefaultTimeout,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig decodes the YAML file at filename over cfg. Unknown keys are an
// error.
func LoadConfig(filename string, cfg *Config) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "open config")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return errors.Wrapf(err, "decode config %s", filename)
	}

	return nil
}

// exactHex checks that s is exactly n bytes of hex.
func exactHex(name, s string, n int) error {
	if len(s) != 2*n {
		return errors.Errorf("%s must be %d hex digits, got %d", name, 2*n, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return errors.Wrapf(err, "%s", name)
	}
	return nil
}

func (c Config) Validate() error {
	if err := exactHex("meter id", c.MeterID, len(frame.MeterID{})); err != nil {
		return err
	}
	if err := exactHex("key", c.Key, decrypt.KeySize); err != nil {
		return err
	}

	if c.Tick <= 0 {
		return errors.Errorf("tick must be positive, got %s", c.Tick)
	}
	if c.Duration < 0 {
		return errors.Errorf("duration must not be negative, got %s", c.Duration)
	}
	if _, err := cc1101.ParseSpeed(c.SPI.Speed); err != nil {
		return err
	}
	if c.GPIO.GDO0 < 0 {
		return errors.Errorf("invalid gdo0 line offset: %d", c.GPIO.GDO0)
	}

	if c.Format != FormatNone {
		if _, err := publish.NewEncoder(c.Format, io.Discard); err != nil {
			return err
		}
	}
	if _, err := publish.NewLastUpdate(c.TimestampFormat, time.Time{}); err != nil {
		return err
	}
	if c.MQTT.QoS > 2 {
		return errors.Errorf("invalid mqtt qos: %d", c.MQTT.QoS)
	}

	if _, err := c.NewLogger(io.Discard); err != nil {
		return err
	}

	return nil
}

// NewLogger builds the logger described by the log section.
func (c Config) NewLogger(w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)

	switch c.Log.Format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000",
		})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Errorf("invalid log format: %q", c.Log.Format)
	}

	return l, nil
}

// Dump logs the effective configuration. The key is never logged.
func (c Config) Dump(log logrus.FieldLogger) {
	log.WithFields(logrus.Fields{
		"meter":     c.MeterID,
		"spi":       c.SPI.Port,
		"speed":     c.SPI.Speed,
		"gpiochip":  c.GPIO.Chip,
		"gdo0":      c.GPIO.GDO0,
		"tick":      c.Tick,
		"duration":  c.Duration,
		"single":    c.Single,
		"format":    c.Format,
		"unique":    c.Unique,
		"broker":    c.MQTT.Broker,
		"topic":     c.MQTT.Topic,
		"timestamp": c.TimestampFormat,
	}).Info("configuration")
}
