package cc1101

import "fmt"

// Setting is a single register write.
type Setting struct {
	Addr  byte
	Value byte
}

// Profile is an ordered list of register writes applied at startup.
type Profile []Setting

func (p Profile) String() string {
	return fmt.Sprintf("{Registers:%d}", len(p))
}

// ModeC1 configures the radio for wireless M-Bus mode C1 reception: 868.95 MHz,
// ~103 kbps 2-GFSK, sync word 0x543D, infinite packet length. GDO0 follows
// sync word detection.
var ModeC1 = Profile{
	{IOCFG2, 0x2E},
	{IOCFG0, 0x06},
	{FIFOTHR, 0x00},
	{PKTLEN, 0x30},
	{PKTCTRL1, 0x00},
	{PKTCTRL0, 0x02},
	{SYNC1, 0x54},
	{SYNC0, 0x3D},
	{ADDR, 0x00},
	{CHANNR, 0x00},

	{FSCTRL1, 0x08},
	{FSCTRL0, 0x00},
	{FREQ2, 0x21},
	{FREQ1, 0x6B},
	{FREQ0, 0xD0},

	{MDMCFG4, 0x5C},
	{MDMCFG3, 0x04},
	{MDMCFG2, 0x06},
	{MDMCFG1, 0x22},
	{MDMCFG0, 0xF8},
	{DEVIATN, 0x44},

	{MCSM1, 0x00},
	{MCSM0, 0x18},

	{FOCCFG, 0x2E},
	{BSCFG, 0xBF},

	{AGCCTRL2, 0x43},
	{AGCCTRL1, 0x09},
	{AGCCTRL0, 0xB5},

	{FREND1, 0xB6},
	{FREND0, 0x10},

	{FSCAL3, 0xEA},
	{FSCAL2, 0x2A},
	{FSCAL1, 0x00},
	{FSCAL0, 0x1F},

	{FSTEST, 0x59},
	{TEST2, 0x81},
	{TEST1, 0x35},
	{TEST0, 0x09},
}
