package reading

import "fmt"

type UnknownFrameTypeError struct {
	CI byte
}

func (e *UnknownFrameTypeError) Error() string {
	return fmt.Sprintf("unknown frame type: 0x%02X", e.CI)
}

type ShortPayloadError struct {
	Layout string
	Length int
	Min    int
}

func (e *ShortPayloadError) Error() string {
	if e.Layout == "" {
		return fmt.Sprintf("payload too short: %d < %d", e.Length, e.Min)
	}
	return fmt.Sprintf("%s payload too short: %d < %d", e.Layout, e.Length, e.Min)
}

type ChecksumError struct {
	Calculated uint16
	Read       uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("crc mismatch: calculated 0x%04X, read 0x%04X", e.Calculated, e.Read)
}
