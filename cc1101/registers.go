package cc1101

// Configuration registers.
const (
	IOCFG2   = 0x00
	IOCFG1   = 0x01
	IOCFG0   = 0x02
	FIFOTHR  = 0x03
	SYNC1    = 0x04
	SYNC0    = 0x05
	PKTLEN   = 0x06
	PKTCTRL1 = 0x07
	PKTCTRL0 = 0x08
	ADDR     = 0x09
	CHANNR   = 0x0A
	FSCTRL1  = 0x0B
	FSCTRL0  = 0x0C
	FREQ2    = 0x0D
	FREQ1    = 0x0E
	FREQ0    = 0x0F
	MDMCFG4  = 0x10
	MDMCFG3  = 0x11
	MDMCFG2  = 0x12
	MDMCFG1  = 0x13
	MDMCFG0  = 0x14
	DEVIATN  = 0x15
	MCSM2    = 0x16
	MCSM1    = 0x17
	MCSM0    = 0x18
	FOCCFG   = 0x19
	BSCFG    = 0x1A
	AGCCTRL2 = 0x1B
	AGCCTRL1 = 0x1C
	AGCCTRL0 = 0x1D
	FREND1   = 0x21
	FREND0   = 0x22
	FSCAL3   = 0x23
	FSCAL2   = 0x24
	FSCAL1   = 0x25
	FSCAL0   = 0x26
	FSTEST   = 0x29
	TEST2    = 0x2C
	TEST1    = 0x2D
	TEST0    = 0x2E
)

// Strobe commands.
const (
	SRES  = 0x30
	SCAL  = 0x33
	SRX   = 0x34
	SIDLE = 0x36
	SFRX  = 0x3A
	SNOP  = 0x3D
)

// Status registers, only readable with the burst bit set.
const (
	PARTNUM   = 0x30
	VERSION   = 0x31
	RSSI      = 0x34
	MARCSTATE = 0x35
	RXBYTES   = 0x3B
)

const (
	RXFIFO = 0x3F

	ReadSingle = 0x80
	ReadBurst  = 0xC0
)

// MARCSTATE values, low 5 bits.
const (
	MarcStateMask = 0x1F
	MarcStateIdle = 0x01
	MarcStateRX   = 0x0D
)

// KnownVersions are the VERSION register values of supported silicon.
var KnownVersions = []byte{0x14, 0x04, 0x03}
