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
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to upper cased flag names, with dashes replaced by
// underscores, to form the environment variable overriding each flag.
const EnvPrefix = "MULTICAL21_"

// Options are the flags that aren't part of Config.
type Options struct {
	ConfigFile string
	Version    bool
}

// RegisterFlags binds every flag to a field of cfg or opts.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config, opts *Options) {
	fs.StringVar(&opts.ConfigFile, "config", "", "yaml configuration file, flags override its values")
	fs.BoolVar(&opts.Version, "version", false, "display build date and commit hash")

	fs.StringVar(&cfg.MeterID, "meterid", cfg.MeterID, "meter id as printed on the meter, 8 hex digits")
	fs.StringVar(&cfg.Key, "key", cfg.Key, "meter AES-128 key, 32 hex digits")

	fs.StringVar(&cfg.SPI.Port, "spi", cfg.SPI.Port, "spi port, ex. /dev/spidev0.0, empty for the first available")
	fs.StringVar(&cfg.SPI.Speed, "spi-speed", cfg.SPI.Speed, "spi clock frequency")
	fs.StringVar(&cfg.GPIO.Chip, "gpiochip", cfg.GPIO.Chip, "gpio chip the GDO0 line belongs to")
	fs.IntVar(&cfg.GPIO.GDO0, "gdo0", cfg.GPIO.GDO0, "gpio line offset connected to GDO0")

	fs.DurationVar(&cfg.Tick, "tick", cfg.Tick, "interval between GDO0 polls")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "time to run for, 0 for infinite, ex. 1h5m10s")
	fs.BoolVar(&cfg.Single, "single", cfg.Single, "one shot execution, exit after the first reading")

	fs.StringVar(&cfg.Format, "format", cfg.Format, "reading output format: plain, csv, json, xml or none")
	fs.BoolVar(&cfg.Unique, "unique", cfg.Unique, "suppress readings identical to the previous one")
	fs.StringVar(&cfg.TimestampFormat, "timestamp-format", cfg.TimestampFormat, "strftime format of the last update text, or uptime")

	fs.StringVar(&cfg.MQTT.Broker, "mqtt-broker", cfg.MQTT.Broker, "mqtt broker url, ex. tcp://localhost:1883, empty to disable")
	fs.StringVar(&cfg.MQTT.Topic, "mqtt-topic", cfg.MQTT.Topic, "mqtt topic prefix")
	fs.StringVar(&cfg.MQTT.ClientID, "mqtt-client-id", cfg.MQTT.ClientID, "mqtt client id, defaults to multical21-<meterid>")

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: trace, debug, info, warn or error")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format: text or json")
}

// EnvOverride sets flags from their environment variables. Flags set this way
// count as changed, command line arguments parsed afterwards still win.
func EnvOverride(fs *pflag.FlagSet, getenv func(string) string, log logrus.FieldLogger) {
	fs.VisitAll(func(f *pflag.Flag) {
		envName := EnvPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		flagValue := getenv(envName)
		if flagValue == "" {
			return
		}

		entry := log.WithFields(logrus.Fields{"env": envName, "flag": f.Name})
		if err := fs.Set(f.Name, flagValue); err != nil {
			entry.WithError(err).Warn("environment variable failed to override flag")
			return
		}
		if f.Name == "key" {
			entry.Debug("environment variable overrides flag")
			return
		}
		entry.WithField("value", flagValue).Debug("environment variable overrides flag")
	})
}

// ParseArgs resolves the configuration from defaults, the optional YAML file,
// the environment and the command line, in increasing order of precedence.
func ParseArgs(name string, args []string, getenv func(string) string, log logrus.FieldLogger) (cfg Config, opts Options, err error) {
	cfg = DefaultConfig()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	RegisterFlags(fs, &cfg, &opts)
	EnvOverride(fs, getenv, log)

	if err = fs.Parse(args); err != nil {
		return
	}
	if opts.ConfigFile == "" || opts.Version {
		return
	}

	// The file sits below flags, so load it into fresh defaults and replay
	// every flag that was set.
	changed := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	cfg = DefaultConfig()
	if err = LoadConfig(opts.ConfigFile, &cfg); err != nil {
		return
	}
	for name, value := range changed {
		if err = fs.Set(name, value); err != nil {
			return cfg, opts, errors.Wrapf(err, "replay flag %s", name)
		}
	}

	return
}
