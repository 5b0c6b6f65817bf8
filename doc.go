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

/*
Package main implements a receiver for Kamstrup Multical 21 water meters using
a TI CC1101 transceiver attached to a Linux host over SPI.

The meter transmits wireless M-Bus mode C1 telegrams at 868.95 MHz every few
seconds. Each telegram is encrypted with AES-128 in counter mode using a key
supplied by the utility. Telegrams from the configured meter are decrypted,
verified and decoded into total volume, volume at the start of the month,
water temperature and ambient temperature. A flow rate is derived from
consecutive totals.

Wiring

The CC1101 is connected to an SPI port (MOSI, MISO, SCLK and CS) and its GDO0
pin to a GPIO line. GDO0 goes low when the radio has synchronized on a frame.

Usage

	multical21 --meterid=12345678 --key=000102030405060708090A0B0C0D0E0F

Flags

	--config=""

Reads a YAML configuration file. Keys mirror the flags:

	meter_id: "12345678"
	key: "000102030405060708090A0B0C0D0E0F"
	spi:
	  port: /dev/spidev0.0
	  speed: 1MHz
	gpio:
	  chip: gpiochip0
	  gdo0: 25
	tick: 5ms
	format: plain
	mqtt:
	  broker: tcp://localhost:1883
	  topic: multical21
	log:
	  level: info
	  format: text

Flags given on the command line or through the environment override the file.

	--meterid="" --key=""

Meter id as printed on the meter (8 hex digits) and the meter's AES key (32 hex
digits). Both are required. Frames from other meters are silently ignored.

	--spi="" --spi-speed="1MHz" --gpiochip="gpiochip0" --gdo0=25

SPI port and clock, and the GPIO line GDO0 is connected to.

	--tick=5ms

Interval between GDO0 polls.

	--format="plain"

Sets the reading output format written to stdout: plain, csv, json, xml or
none. Plain text is formatted using the following format string:

	{Time:%s Meter:%s %s:{Total:%.3f MonthStart:%.3f FlowTemp:%d AmbientTemp:%d Flow:%s}}

CSV output starts with a header line. For json and xml output each line is an
element, there is no root node.

	--unique=false

Suppresses readings whose values equal the previous reading's.

	--duration=0 --single=false

Time to run for, 0 for infinite. With single the receiver exits after the first
reading.

	--mqtt-broker="" --mqtt-topic="multical21" --mqtt-client-id=""

Publishes readings to an MQTT broker under <topic>/<meterid>/: a JSON state
message plus total_m3, month_start_m3, water_temp_c, ambient_temp_c, flow_lph
and last_update. Diagnostic counters are published retained to diagnostics.

	--timestamp-format="uptime"

strftime pattern of last_update, "uptime" publishes the time since start as
"Uptime: HH:MM:SS".

	--log-level="info" --log-format="text"

Every flag can also be set through an environment variable named MULTICAL21_
followed by the upper cased flag name with dashes replaced by underscores,
e.g. MULTICAL21_MQTT_BROKER.
*/
package main
